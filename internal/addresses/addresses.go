// Package addresses resolves Synthetix contract names to their deployed
// addresses per network.
//
// The table is a static "latest known deployment" map: rows are applied in
// file order and a later row for the same network and contract replaces an
// earlier one. The block number accepted by Resolve is ignored.
package addresses

import (
	_ "embed"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

//go:embed deployments.yaml
var deploymentsYAML []byte

type deploymentsFile struct {
	Deployments []Deployment `yaml:"deployments"`
}

// Deployment is one row of the table.
type Deployment struct {
	Network  string `yaml:"network"`
	Contract string `yaml:"contract"`
	Address  string `yaml:"address"`
}

// Table maps network -> contract name -> address.
type Table map[string]map[string]common.Address

var defaultTable = mustLoad(deploymentsYAML)

// Parse builds a Table from YAML. Last write wins.
func Parse(data []byte) (Table, error) {
	var f deploymentsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse deployments: %w", err)
	}

	t := make(Table)
	for i, d := range f.Deployments {
		if d.Network == "" || d.Contract == "" {
			return nil, fmt.Errorf("deployment row %d: network and contract are required", i)
		}
		if !common.IsHexAddress(d.Address) {
			return nil, fmt.Errorf("deployment row %d (%s/%s): bad address %q", i, d.Network, d.Contract, d.Address)
		}
		byName, ok := t[d.Network]
		if !ok {
			byName = make(map[string]common.Address)
			t[d.Network] = byName
		}
		byName[d.Contract] = common.HexToAddress(d.Address)
	}
	return t, nil
}

func mustLoad(data []byte) Table {
	t, err := Parse(data)
	if err != nil {
		panic("addresses: " + err.Error())
	}
	return t
}

// Resolve returns the address of contractName on network. The block
// number is ignored; each deployment resolves to the last address listed
// for it.
func (t Table) Resolve(contractName, network string, _ uint64) (common.Address, bool) {
	addr, ok := t[network][contractName]
	return addr, ok
}

// Networks lists the networks in the table, sorted.
func (t Table) Networks() []string {
	out := make([]string, 0, len(t))
	for n := range t {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Contracts lists the contract names known on network, sorted.
func (t Table) Contracts(network string) []string {
	byName := t[network]
	out := make([]string, 0, len(byName))
	for name := range byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Resolve looks contractName up in the embedded deployment table.
func Resolve(contractName, network string, blockNumber uint64) (common.Address, bool) {
	return defaultTable.Resolve(contractName, network, blockNumber)
}

// Networks lists the networks in the embedded table.
func Networks() []string { return defaultTable.Networks() }

// Contracts lists the contracts known on network in the embedded table.
func Contracts(network string) []string { return defaultTable.Contracts(network) }

// Default returns the embedded table.
func Default() Table { return defaultTable }
