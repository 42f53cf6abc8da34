// Package app wires the financial core together: repositories, the
// transaction boundary, the in-process event bus and the outbox.
package app

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/hms/hms/internal/domain/billing"
	"github.com/hms/hms/internal/domain/inpatient"
	"github.com/hms/hms/internal/domain/nhia"
	"github.com/hms/hms/internal/domain/patient"
	"github.com/hms/hms/internal/domain/pharmacy"
	"github.com/hms/hms/internal/domain/wallet"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/events"
	"github.com/hms/hms/internal/platform/lock"
	"github.com/hms/hms/internal/platform/middleware"
	"github.com/hms/hms/internal/platform/outbox"
	"github.com/hms/hms/internal/platform/websocket"
)

// Options are the runtime settings the services need.
type Options struct {
	Location      *time.Location
	PharmacyShare decimal.Decimal
	Recovery      inpatient.RecoveryConfig
	// Locker guards scheduled runs. Nil means a process-local locker.
	Locker    lock.Locker
	TxRetries int
}

// App holds the wired services.
type App struct {
	Patients  *patient.Service
	Gate      *nhia.Gate
	Ledger    *wallet.Ledger
	Engine    *billing.Engine
	Recorder  *billing.Recorder
	Pharmacy  *pharmacy.Service
	Inpatient *inpatient.Service

	Tx       db.Transactor
	Bus      *events.Bus
	Outbox   outbox.Repository
	Recovery inpatient.RecoveryConfig
	Location *time.Location
	// Live mirrors dispatched notifications to WebSocket clients.
	Live *websocket.Hub

	notify *outbox.Writer
	log    zerolog.Logger
}

// TopicAudit carries one financial audit entry per mutating API request.
const TopicAudit = "audit.financial_request"

type repositories struct {
	patients      patient.Repository
	nhia          nhia.Repository
	wallets       wallet.Repository
	invoices      billing.InvoiceRepository
	payments      billing.PaymentRepository
	prescriptions pharmacy.Repository
	wards         inpatient.WardRepository
	admissions    inpatient.AdmissionRepository
	outbox        outbox.Repository
}

// NewMemory builds the core over in-memory repositories. Every store is
// registered with the transactor so a failed transaction rolls all of them back.
func NewMemory(opts Options, logger zerolog.Logger) *App {
	patients := patient.NewMemoryRepository()
	nhiaRepo := nhia.NewMemoryRepository()
	wallets := wallet.NewMemoryRepository()
	invoices := billing.NewMemoryInvoiceRepository()
	payments := billing.NewMemoryPaymentRepository()
	prescriptions := pharmacy.NewMemoryRepository()
	wards := inpatient.NewMemoryWardRepository()
	admissions := inpatient.NewMemoryAdmissionRepository()
	box := outbox.NewMemoryRepository()

	tx := db.NewMemoryTransactor(patients, nhiaRepo, wallets, invoices, payments,
		prescriptions, wards, admissions, box)

	return build(repositories{
		patients:      patients,
		nhia:          nhiaRepo,
		wallets:       wallets,
		invoices:      invoices,
		payments:      payments,
		prescriptions: prescriptions,
		wards:         wards,
		admissions:    admissions,
		outbox:        box,
	}, tx, opts, logger)
}

// NewPostgres builds the core over PostgreSQL.
func NewPostgres(pool *pgxpool.Pool, opts Options, logger zerolog.Logger) *App {
	return build(repositories{
		patients:      patient.NewRepoPG(pool),
		nhia:          nhia.NewRepoPG(pool),
		wallets:       wallet.NewRepoPG(pool),
		invoices:      billing.NewInvoiceRepoPG(pool),
		payments:      billing.NewPaymentRepoPG(pool),
		prescriptions: pharmacy.NewRepoPG(pool),
		wards:         inpatient.NewWardRepoPG(pool),
		admissions:    inpatient.NewAdmissionRepoPG(pool),
		outbox:        outbox.NewRepoPG(pool),
	}, db.NewTxManager(pool, opts.TxRetries, logger), opts, logger)
}

func build(r repositories, tx db.Transactor, opts Options, logger zerolog.Logger) *App {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	locker := opts.Locker
	if locker == nil {
		locker = lock.NewLocalLocker()
	}
	bus := events.NewBus()
	notify := outbox.NewWriter(r.outbox, logger.With().Str("component", "outbox").Logger())

	gate := nhia.NewGate(r.patients, r.nhia, opts.PharmacyShare, logger.With().Str("component", "nhia").Logger())
	ledger := wallet.NewLedger(r.wallets, tx, notify, logger.With().Str("component", "wallet").Logger())
	engine := billing.NewEngine(r.invoices, tx, bus, gate, loc, logger.With().Str("component", "billing").Logger())
	recorder := billing.NewRecorder(engine, r.payments, ledger, tx, notify, logger.With().Str("component", "payments").Logger())
	ledger.SetOutstandingSettler(recorder)

	rx := pharmacy.NewService(r.prescriptions, engine, gate, tx, logger.With().Str("component", "pharmacy").Logger())
	rx.Subscribe(bus)

	ward := inpatient.NewService(inpatient.Deps{
		Wards:      r.wards,
		Admissions: r.admissions,
		Gate:       gate,
		Invoices:   engine,
		Payer:      recorder,
		Ledger:     ledger,
		Tx:         tx,
		Locker:     locker,
		Notify:     notify,
	}, loc, logger.With().Str("component", "inpatient").Logger())
	ward.Subscribe(bus)

	return &App{
		Patients:  patient.NewService(r.patients),
		Gate:      gate,
		Ledger:    ledger,
		Engine:    engine,
		Recorder:  recorder,
		Pharmacy:  rx,
		Inpatient: ward,
		Tx:        tx,
		Bus:       bus,
		Outbox:    r.outbox,
		Recovery:  opts.Recovery,
		Location:  loc,
		Live:      websocket.NewHub(logger.With().Str("component", "live").Logger()),
		notify:    notify,
		log:       logger,
	}
}

// RegisterRoutes mounts every domain handler on the /api/v1 group.
func (a *App) RegisterRoutes(api *echo.Group) {
	patient.NewHandler(a.Patients).RegisterRoutes(api)
	nhia.NewHandler(a.Gate).RegisterRoutes(api)
	wallet.NewHandler(a.Ledger).RegisterRoutes(api)
	billing.NewHandler(a.Engine, a.Recorder).RegisterRoutes(api)
	pharmacy.NewHandler(a.Pharmacy).RegisterRoutes(api)
	inpatient.NewHandler(a.Inpatient, a.Recovery).RegisterRoutes(api)
}

// AuditRecorder forwards audit entries to the outbox.
func (a *App) AuditRecorder() middleware.AuditRecorder {
	return middleware.AuditRecorderFunc(func(entry middleware.AuditEntry) error {
		a.notify.Notify(context.Background(), TopicAudit, entry)
		return nil
	})
}

// Dispatcher returns an outbox worker publishing through pub and then to
// live subscribers.
func (a *App) Dispatcher(pub outbox.Publisher, cfg outbox.DispatcherConfig) *outbox.Dispatcher {
	return outbox.NewDispatcher(a.Outbox, a.Tx, outbox.Tee(pub, a.Live), cfg, a.log.With().Str("component", "dispatcher").Logger())
}
