package config

// MethodSignatureTable maps the first 4 bytes (as a lowercase hex string,
// no 0x prefix) of a transaction's calldata to a category label. Unknown
// signatures fall back to UNKNOWN_CONTRACT_INTERACTION at the call site.
var MethodSignatureTable = map[string]string{
	"a9059cbb": "ERC20_TRANSFER",
	"23b872dd": "ERC20_TRANSFER_FROM",
	"095ea7b3": "ERC20_APPROVE",
	"42842e0e": "NFT_SAFE_TRANSFER_FROM",
	"b88d4fde": "NFT_SAFE_TRANSFER_FROM",
	"a22cb465": "NFT_SET_APPROVAL_FOR_ALL",
	"7ff36ab5": "UNISWAP_SWAP",
	"38ed1739": "UNISWAP_SWAP",
	"8803dbee": "UNISWAP_SWAP",
	"18cbafe5": "UNISWAP_SWAP",
	"e8e33700": "UNISWAP_ADD_LIQUIDITY",
	"baa2abde": "UNISWAP_REMOVE_LIQUIDITY",
	"d0e30db0": "WRAP_NATIVE",
	"2e1a7d4d": "UNWRAP_NATIVE",
	"40c10f19": "MINT",
	"42966c68": "BURN",
}

// CategoryFor resolves a 4-byte method selector (hex, no 0x) to a category.
func CategoryFor(selector string) (category string, known bool) {
	c, ok := MethodSignatureTable[selector]
	return c, ok
}

const (
	CategoryUnknownContract = "UNKNOWN_CONTRACT_INTERACTION"
	CategoryNativeTransfer  = "NATIVE_TRANSFER"
	CategorySimpleCall      = "SIMPLE_CONTRACT_CALL"
)
