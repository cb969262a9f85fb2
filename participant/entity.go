package participant

import (
	"sync"

	"github.com/Konstantsiy/alglobo"
	"github.com/hashicorp/go-hclog"
)

// Entity holds the business rules of one participant service.
// Accept and Apply are only called from the state machine goroutine.
type Entity interface {
	Name() string
	// Accept decides whether a prepared transaction may go ahead.
	Accept(tx alglobo.Transaction) bool
	// Apply performs the entity side effect of a committed transaction.
	Apply(tx alglobo.Transaction)
}

// Default fault-injection clients, a payment from one of them is always
// rejected by the matching entity.
const (
	HotelFailClient   = "falla_hotel"
	AirlineFailClient = "falla_airline"
	BankFailClient    = "falla_banco"
)

type Hotel struct {
	failClient string
	logger     hclog.Logger

	mx           sync.Mutex
	reservations uint32
}

func NewHotel(failClient string, logger hclog.Logger) *Hotel {
	return &Hotel{failClient: failClient, logger: logger}
}

func (h *Hotel) Name() string { return "hotel" }

func (h *Hotel) Accept(tx alglobo.Transaction) bool {
	return tx.Client != h.failClient
}

func (h *Hotel) Apply(tx alglobo.Transaction) {
	h.mx.Lock()
	h.reservations++
	var total = h.reservations
	h.mx.Unlock()

	h.logger.Info("saving reservation", "number", total, "client", tx.Client, "tx", tx.ID)
}

func (h *Hotel) Reservations() uint32 {
	h.mx.Lock()
	defer h.mx.Unlock()
	return h.reservations
}

type Airline struct {
	failClient string
	logger     hclog.Logger

	mx       sync.Mutex
	bookings uint32
}

func NewAirline(failClient string, logger hclog.Logger) *Airline {
	return &Airline{failClient: failClient, logger: logger}
}

func (a *Airline) Name() string { return "airline" }

func (a *Airline) Accept(tx alglobo.Transaction) bool {
	return tx.Client != a.failClient
}

func (a *Airline) Apply(tx alglobo.Transaction) {
	a.mx.Lock()
	a.bookings++
	var total = a.bookings
	a.mx.Unlock()

	a.logger.Info("saving flight booking", "number", total, "client", tx.Client, "tx", tx.ID)
}

func (a *Airline) Bookings() uint32 {
	a.mx.Lock()
	defer a.mx.Unlock()
	return a.bookings
}

// Bank credits the hotel and airline accounts when a payment commits.
type Bank struct {
	failClient string
	logger     hclog.Logger

	mx             sync.Mutex
	hotelAccount   uint64
	airlineAccount uint64
}

func NewBank(failClient string, logger hclog.Logger) *Bank {
	return &Bank{failClient: failClient, logger: logger}
}

func (b *Bank) Name() string { return "bank" }

func (b *Bank) Accept(tx alglobo.Transaction) bool {
	return tx.Client != b.failClient
}

func (b *Bank) Apply(tx alglobo.Transaction) {
	b.mx.Lock()
	b.hotelAccount += uint64(tx.HotelPrice)
	b.airlineAccount += uint64(tx.AirlinePrice)
	var hotel, airline = b.hotelAccount, b.airlineAccount
	b.mx.Unlock()

	b.logger.Info("crediting hotel account", "amount", tx.HotelPrice, "balance", hotel, "client", tx.Client)
	b.logger.Info("crediting airline account", "amount", tx.AirlinePrice, "balance", airline, "client", tx.Client)
}

// Balances returns the hotel and airline account balances.
func (b *Bank) Balances() (uint64, uint64) {
	b.mx.Lock()
	defer b.mx.Unlock()
	return b.hotelAccount, b.airlineAccount
}

// NewEntity builds the entity registered under name. An empty failClient
// selects the entity's default fault-injection client.
func NewEntity(name, failClient string, logger hclog.Logger) (Entity, bool) {
	switch name {
	case "hotel":
		if failClient == "" {
			failClient = HotelFailClient
		}
		return NewHotel(failClient, logger), true
	case "airline":
		if failClient == "" {
			failClient = AirlineFailClient
		}
		return NewAirline(failClient, logger), true
	case "bank":
		if failClient == "" {
			failClient = BankFailClient
		}
		return NewBank(failClient, logger), true
	}

	return nil, false
}
