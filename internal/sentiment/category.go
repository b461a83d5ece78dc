package sentiment

import (
	"regexp"
	"strings"
)

// Keyword categories used to group batches and aggregates
const (
	CategorySecurity = "security"
	CategoryDeFi     = "defi"
	CategoryNFT      = "nft"
	CategoryBitcoin  = "bitcoin"
	CategoryEthereum = "ethereum"
	CategoryGeneral  = "general"
)

type category struct {
	name    string
	pattern *regexp.Regexp
}

func wordPattern(words ...string) *regexp.Regexp {
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = regexp.QuoteMeta(w)
	}
	return regexp.MustCompile(`\b(` + strings.Join(quoted, "|") + `)\b`)
}

// Checked in order; security wins over everything else.
var categories = []category{
	{CategorySecurity, wordPattern(
		"exploit", "exploited", "hack", "hacked", "vulnerability", "breach", "rug pull", "rugpull",
		"scam", "phishing", "drained", "attack", "cve", "zero day", "security",
	)},
	{CategoryDeFi, wordPattern(
		"defi", "uniswap", "aave", "compound", "curve", "liquidity", "yield", "staking",
		"lending", "dex", "tvl", "amm",
	)},
	{CategoryNFT, wordPattern("nft", "nfts", "opensea", "mint", "minting", "collectible", "pfp")},
	{CategoryBitcoin, wordPattern("bitcoin", "btc", "satoshi", "lightning", "halving", "sats")},
	{CategoryEthereum, wordPattern("ethereum", "eth", "vitalik", "erc20", "layer 2", "l2", "rollup")},
}

// DetermineCategory picks the keyword category of a text and its matched keywords
func DetermineCategory(text string, keywords []string) string {
	content := strings.ToLower(text + " " + strings.Join(keywords, " "))
	for _, c := range categories {
		if c.pattern.MatchString(content) {
			return c.name
		}
	}
	return CategoryGeneral
}
