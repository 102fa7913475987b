package engine

// Credit prices per operation. The run itself costs one credit; unlisted
// blocks are free.
const RunPrice int64 = 1

var blockPrices = map[string]int64{
	"nillion-compute":     5,
	"nillion-block-graph": 3,
	"nilai-llm":           10,
	"state-store":         1,
	"state-read":          1,
	"zcash-send":          2,
	"connector-request":   1,
	"custom-http-action":  1,
}

// BlockPrice returns the credit cost of executing a block
func BlockPrice(blockID string) int64 {
	return blockPrices[blockID]
}
