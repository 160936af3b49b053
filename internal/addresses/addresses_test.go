package addresses

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_IgnoresBlockNumber(t *testing.T) {
	want := common.HexToAddress("0x3772f9716Cf6D7a09edE3587738AA2af5577483a")

	for _, block := range []uint64{0, 1, 10_000_000, 14_000_000, 1 << 40} {
		got, ok := Resolve("Synthetix", "mainnet", block)
		require.True(t, ok, "block %d", block)
		assert.Equal(t, want, got, "block %d", block)
	}
}

func TestResolve_LastRowWins(t *testing.T) {
	cases := []struct {
		contract, network, want string
	}{
		{"SystemSettings", "mainnet", "0x26C6C7F10e271Eef0011d07319622F31d22D139c"},
		{"SynthetixDebtShare", "mainnet", "0x89FCb32F29e509cc42d0C8b6f058C993013A843F"},
		{"AddressResolver", "mainnet", "0xFbB6526ed92DA8915d4843a86166020d0B7bAAd0"},
		{"Synthetix", "optimism", "0xD85eAFa37734E4ad237C3A3443D64DC94ae998E7"},
	}
	for _, c := range cases {
		got, ok := Resolve(c.contract, c.network, 0)
		require.True(t, ok, "%s/%s", c.network, c.contract)
		assert.Equal(t, common.HexToAddress(c.want), got, "%s/%s", c.network, c.contract)
	}
}

func TestResolve_Unknown(t *testing.T) {
	_, ok := Resolve("Synthetix", "goerli-nonexistent", 0)
	assert.False(t, ok)

	addr, ok := Resolve("NotAContract", "mainnet", 0)
	assert.False(t, ok)
	assert.Equal(t, common.Address{}, addr)
}

func TestParse_OverwritesInFileOrder(t *testing.T) {
	data := []byte(`
deployments:
  - {network: mainnet, contract: Foo, address: "0x0000000000000000000000000000000000000001"}
  - {network: mainnet, contract: Foo, address: "0x0000000000000000000000000000000000000002"}
  - {network: optimism, contract: Foo, address: "0x0000000000000000000000000000000000000003"}
`)
	table, err := Parse(data)
	require.NoError(t, err)

	got, ok := table.Resolve("Foo", "mainnet", 123)
	require.True(t, ok)
	assert.Equal(t, common.HexToAddress("0x2"), got)
	assert.Equal(t, []string{"mainnet", "optimism"}, table.Networks())
}

func TestParse_RejectsBadAddress(t *testing.T) {
	_, err := Parse([]byte(`
deployments:
  - {network: mainnet, contract: Foo, address: "not-an-address"}
`))
	assert.Error(t, err)
}

func TestNetworksAndContracts(t *testing.T) {
	assert.Equal(t, []string{"mainnet", "optimism"}, Networks())

	names := Contracts("mainnet")
	assert.Contains(t, names, "Synthetix")
	assert.Contains(t, names, "SystemSettings")
	assert.Empty(t, Contracts("nowhere"))
}
