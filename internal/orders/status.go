package orders

import "fmt"

type Status string

const (
	StatusPending         Status = "pending"
	StatusShipped         Status = "shipped"
	StatusDelivery        Status = "delivery"
	StatusDelivered       Status = "delivered"
	StatusCompleted       Status = "completed"
	StatusReturned        Status = "returned"
	StatusReturnedInStock Status = "returned_in_stock"
	StatusCancelled       Status = "cancelled"
)

var validNext = map[Status]map[Status]bool{
	StatusPending:         {StatusShipped: true, StatusDelivery: true, StatusDelivered: true, StatusCancelled: true},
	StatusShipped:         {StatusDelivery: true, StatusDelivered: true, StatusCancelled: true},
	StatusDelivery:        {StatusDelivered: true, StatusCancelled: true},
	StatusDelivered:       {StatusCompleted: true, StatusReturned: true},
	StatusReturned:        {StatusReturnedInStock: true},
	StatusCompleted:       {},
	StatusReturnedInStock: {},
	StatusCancelled:       {},
}

func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if _, ok := validNext[st]; !ok {
		return "", &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", s)}
	}
	return st, nil
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// IsTerminal reports whether no further stock mutation is expected.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusReturnedInStock:
		return true
	}
	return false
}

type StockEffect int

const (
	StockNone StockEffect = iota
	StockFinalize
	StockRelease
)

type ProfitEffect int

const (
	ProfitNone ProfitEffect = iota
	ProfitAwaitReceipt
	ProfitDelete
)

// Effects lists what entering a status does besides the status write.
type Effects struct {
	Stock   StockEffect
	Profit  ProfitEffect
	Archive bool
	Notify  bool
}

// EffectsOf returns the side effects of moving into to. Every status must
// be listed here; ok is false for values outside the enum.
func EffectsOf(to Status) (eff Effects, ok bool) {
	switch to {
	case StatusShipped:
		return Effects{Profit: ProfitAwaitReceipt, Notify: true}, true
	case StatusDelivered:
		return Effects{Stock: StockFinalize, Notify: true}, true
	case StatusCancelled:
		return Effects{Stock: StockRelease, Profit: ProfitDelete, Notify: true}, true
	case StatusReturnedInStock:
		return Effects{Archive: true, Notify: true}, true
	case StatusPending, StatusDelivery, StatusCompleted, StatusReturned:
		return Effects{Notify: true}, true
	}
	return Effects{}, false
}
