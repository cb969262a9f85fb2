package alglobo

import "fmt"

// Transaction is a single payment read from the pending queue.
// It is immutable once read; ID is unique across the whole queue.
type Transaction struct {
	ID           uint32 // unique payment id, anchors idempotency on every participant
	Client       string // client identifier, also used as fault-injection sentinel
	HotelPrice   uint32 // amount credited to the hotel account on commit
	AirlinePrice uint32 // amount credited to the airline account on commit
}

func (t Transaction) String() string {
	return fmt.Sprintf("tx(%d, %s, hotel=%d, airline=%d)", t.ID, t.Client, t.HotelPrice, t.AirlinePrice)
}
