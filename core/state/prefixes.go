package state

var (
	escrowRecordPrefix = []byte("escrow/record/")
	escrowIndexKey     = []byte("escrow/index")
	escrowIndexPrefix  = []byte("escrow/index/")
	escrowConfigKey    = []byte("escrow/config")
	balancePrefix      = []byte("balance/")
	allowancePrefix    = []byte("allowance/")
)
