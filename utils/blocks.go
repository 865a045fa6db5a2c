package utils

type BlocksRange struct {
	From uint64
	To   uint64
}

// SplitBlockRange splits [fromBlock, toBlock] into consecutive ranges of at most maxSize blocks.
func SplitBlockRange(fromBlock, toBlock, maxSize uint64) []*BlocksRange {
	if maxSize == 0 {
		maxSize = 1
	}
	batches := make([]*BlocksRange, 0, 10)
	for fromBlock <= toBlock {
		batchToBlock := fromBlock + maxSize - 1
		if batchToBlock > toBlock {
			batchToBlock = toBlock
		}
		batches = append(batches, &BlocksRange{
			From: fromBlock,
			To:   batchToBlock,
		})
		fromBlock += maxSize
	}
	return batches
}
