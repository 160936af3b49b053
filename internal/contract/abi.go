package contract

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Only the methods the indexer reads are declared.

const erc20JSON = `[
	{"constant":true,"inputs":[],"name":"name","outputs":[{"name":"","type":"string"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"totalSupply","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"}
]`

const truefiPoolJSON = `[
	{"constant":true,"inputs":[],"name":"token","outputs":[{"name":"","type":"address"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"poolValue","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"loansValue","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"totalSupply","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"}
]`

const managedPortfolioJSON = `[
	{"constant":true,"inputs":[],"name":"underlyingToken","outputs":[{"name":"","type":"address"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"value","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"illiquidValue","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"totalSupply","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"}
]`

const stablecoinOracleJSON = `[
	{"constant":true,"inputs":[{"name":"amount","type":"uint256"}],"name":"tokenToUsd","outputs":[{"name":"","type":"uint256"}],"type":"function"}
]`

const truOracleJSON = `[
	{"constant":true,"inputs":[{"name":"amount","type":"uint256"}],"name":"truToUsd","outputs":[{"name":"","type":"uint256"}],"type":"function"}
]`

const aggregatorJSON = `[
	{"constant":true,"inputs":[],"name":"latestAnswer","outputs":[{"name":"","type":"int256"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"}
]`

const synthetixJSON = `[
	{"constant":true,"inputs":[{"name":"currencyKey","type":"bytes32"}],"name":"totalIssuedSynthsExcludeOtherCollateral","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"currencyKey","type":"bytes32"}],"name":"totalIssuedSynthsExcludeEtherCollateral","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"currencyKey","type":"bytes32"}],"name":"totalIssuedSynths","outputs":[{"name":"","type":"uint256"}],"type":"function"}
]`

const debtShareJSON = `[
	{"constant":true,"inputs":[],"name":"totalSupply","outputs":[{"name":"","type":"uint256"}],"type":"function"}
]`

const systemSettingsJSON = `[
	{"constant":true,"inputs":[],"name":"waitingPeriodSecs","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"priceDeviationThresholdFactor","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"issuanceRatio","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"feePeriodDuration","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"targetThreshold","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"liquidationDelay","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"liquidationRatio","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"liquidationPenalty","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"rateStalePeriod","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"minimumStakeTime","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"debtSnapshotStaleTime","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"aggregatorWarningFlags","outputs":[{"name":"","type":"address"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"etherWrapperMaxETH","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"etherWrapperMintFeeRate","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"etherWrapperBurnFeeRate","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"atomicMaxVolumePerBlock","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"atomicTwapWindow","outputs":[{"name":"","type":"uint256"}],"type":"function"}
]`

// TrueFi events, normalized across pool and portfolio contract versions.
const truefiEventsJSON = `[
	{"anonymous":false,"inputs":[{"indexed":false,"name":"token","type":"address"},{"indexed":false,"name":"pool","type":"address"}],"name":"PoolCreated","type":"event"},
	{"anonymous":false,"inputs":[{"indexed":false,"name":"newPortfolio","type":"address"},{"indexed":false,"name":"manager","type":"address"}],"name":"PortfolioCreated","type":"event"},
	{"anonymous":false,"inputs":[{"indexed":true,"name":"staker","type":"address"},{"indexed":false,"name":"deposited","type":"uint256"},{"indexed":false,"name":"minted","type":"uint256"}],"name":"Joined","type":"event"},
	{"anonymous":false,"inputs":[{"indexed":true,"name":"staker","type":"address"},{"indexed":false,"name":"amount","type":"uint256"}],"name":"Exited","type":"event"},
	{"anonymous":false,"inputs":[{"indexed":true,"name":"lender","type":"address"},{"indexed":false,"name":"amount","type":"uint256"}],"name":"Deposited","type":"event"},
	{"anonymous":false,"inputs":[{"indexed":true,"name":"lender","type":"address"},{"indexed":false,"name":"sharesAmount","type":"uint256"},{"indexed":false,"name":"receivedAmount","type":"uint256"}],"name":"Withdrawn","type":"event"},
	{"anonymous":false,"inputs":[{"indexed":true,"name":"from","type":"address"},{"indexed":true,"name":"to","type":"address"},{"indexed":false,"name":"value","type":"uint256"}],"name":"Transfer","type":"event"},
	{"anonymous":false,"inputs":[{"indexed":true,"name":"pool","type":"address"},{"indexed":true,"name":"borrower","type":"address"},{"indexed":false,"name":"amount","type":"uint256"},{"indexed":false,"name":"apy","type":"uint256"}],"name":"LoanCreated","type":"event"},
	{"anonymous":false,"inputs":[{"indexed":true,"name":"pool","type":"address"},{"indexed":true,"name":"borrower","type":"address"},{"indexed":false,"name":"amount","type":"uint256"},{"indexed":false,"name":"interest","type":"uint256"}],"name":"LoanRepaid","type":"event"},
	{"anonymous":false,"inputs":[{"indexed":true,"name":"borrower","type":"address"},{"indexed":true,"name":"liquidator","type":"address"},{"indexed":false,"name":"collateralAsset","type":"address"},{"indexed":false,"name":"amountLiquidated","type":"uint256"},{"indexed":false,"name":"debtAsset","type":"address"},{"indexed":false,"name":"debtAmount","type":"uint256"}],"name":"Liquidated","type":"event"},
	{"anonymous":false,"inputs":[{"indexed":false,"name":"rewardToken","type":"address"},{"indexed":false,"name":"rate","type":"uint256"},{"indexed":false,"name":"distributionEnd","type":"uint256"}],"name":"RewardRateUpdated","type":"event"}
]`

// Parsed ABIs.
var (
	ERC20            = mustParse(erc20JSON)
	TruefiPool       = mustParse(truefiPoolJSON)
	ManagedPortfolio = mustParse(managedPortfolioJSON)
	StablecoinOracle = mustParse(stablecoinOracleJSON)
	TruOracle        = mustParse(truOracleJSON)
	Aggregator       = mustParse(aggregatorJSON)
	Synthetix        = mustParse(synthetixJSON)
	DebtShare        = mustParse(debtShareJSON)
	SystemSettings   = mustParse(systemSettingsJSON)
	TruefiEvents     = mustParse(truefiEventsJSON)
)

func mustParse(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic("contract: bad ABI: " + err.Error())
	}
	return parsed
}
