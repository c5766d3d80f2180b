package app

import (
	"github.com/neomorfeo/listiq/internal/domain"
)

// Config holds the immutable settings the orchestrators need.
type Config struct {
	// StreamName is the event log stream every recipient event is appended to.
	StreamName string
}

// Dependencies groups the adapters a RecipientService is wired with.
type Dependencies struct {
	Builder domain.EventBuilder
	Log     domain.EventLog
	Store   domain.RecipientStore
	Index   domain.SearchIndex
	Lists   domain.ListAggregator
	Parser  domain.RecipientParser
}

// RecipientService orchestrates recipient mutations, imports, projections and queries.
type RecipientService struct {
	cfg     Config
	builder domain.EventBuilder
	log     domain.EventLog
	store   domain.RecipientStore
	index   domain.SearchIndex
	lists   domain.ListAggregator
	parser  domain.RecipientParser
}

// NewRecipientService creates a service with the given configuration and adapters.
func NewRecipientService(cfg Config, deps Dependencies) *RecipientService {
	return &RecipientService{
		cfg:     cfg,
		builder: deps.Builder,
		log:     deps.Log,
		store:   deps.Store,
		index:   deps.Index,
		lists:   deps.Lists,
		parser:  deps.Parser,
	}
}
