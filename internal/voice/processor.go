package voice

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"chatterfix/internal/events"
	"chatterfix/internal/store"
	"chatterfix/types"
)

var (
	// ErrNotUnderstood is returned when a transcript maps to no action.
	ErrNotUnderstood = errors.New("could not understand the request")
	// ErrMissingWorkOrder is returned when an action needs a work order number that was not spoken.
	ErrMissingWorkOrder = errors.New("no work order number in the request")
)

// WorkOrderStore is the persistence the processor needs
type WorkOrderStore interface {
	CreateWorkOrder(ctx context.Context, wo *types.WorkOrder) error
	GetWorkOrder(ctx context.Context, id int64) (*types.WorkOrder, error)
	CompleteWorkOrder(ctx context.Context, id int64, notes string) (*types.WorkOrder, error)
	ListWorkOrders(ctx context.Context, f store.WorkOrderFilter) ([]types.WorkOrder, int, error)
}

// Options carry request context for Handle
type Options struct {
	User string
	// AssetID overrides any asset the transcript names.
	AssetID *int64
	// DryRun parses without touching the store.
	DryRun bool
}

// Result is what Handle did
type Result struct {
	Intent     Intent            `json:"intent"`
	WorkOrder  *types.WorkOrder  `json:"work_order,omitempty"`
	WorkOrders []types.WorkOrder `json:"work_orders,omitempty"`
	Message    string            `json:"message"`
}

// Processor executes parsed intents
type Processor struct {
	store     WorkOrderStore
	publisher events.Publisher
	listLimit int
}

func NewProcessor(s WorkOrderStore, publisher events.Publisher) *Processor {
	return &Processor{store: s, publisher: publisher, listLimit: 10}
}

// Handle parses transcript and executes the resulting intent
func (p *Processor) Handle(ctx context.Context, transcript string, opts Options) (*Result, error) {
	intent := Parse(transcript)
	if opts.AssetID != nil {
		intent.AssetID = opts.AssetID
	}
	result := &Result{Intent: intent}

	log.Printf("🎙️  Voice request from %s: %s (confidence %.2f)", userOr(opts.User), intent.Action, intent.Confidence)

	if opts.DryRun {
		result.Message = fmt.Sprintf("Parsed as %s", intent.Action)
		return result, nil
	}

	switch intent.Action {
	case ActionCreate:
		wo := &types.WorkOrder{
			Title:       intent.Title,
			Description: intent.Description,
			Priority:    intent.Priority,
			Category:    intent.Category,
			AssetID:     intent.AssetID,
			Source:      types.SourceVoice,
			CreatedBy:   opts.User,
		}
		if err := p.store.CreateWorkOrder(ctx, wo); err != nil {
			return nil, fmt.Errorf("failed to create work order: %w", err)
		}
		result.WorkOrder = wo
		result.Message = fmt.Sprintf("Created work order #%d: %s (%s priority)", wo.ID, wo.Title, wo.Priority)
		p.publish(ctx, events.WorkOrderCreated, wo, opts.User)

	case ActionComplete:
		if intent.WorkOrderID == nil {
			return nil, ErrMissingWorkOrder
		}
		wo, err := p.store.CompleteWorkOrder(ctx, *intent.WorkOrderID, "Completed by voice: "+strings.TrimSpace(transcript))
		if err != nil {
			return nil, err
		}
		result.WorkOrder = wo
		result.Message = fmt.Sprintf("Work order #%d marked completed", wo.ID)
		p.publish(ctx, events.WorkOrderCompleted, wo, opts.User)

	case ActionStatus:
		if intent.WorkOrderID == nil {
			return nil, ErrMissingWorkOrder
		}
		wo, err := p.store.GetWorkOrder(ctx, *intent.WorkOrderID)
		if err != nil {
			return nil, err
		}
		result.WorkOrder = wo
		result.Message = fmt.Sprintf("Work order #%d is %s (%s priority)", wo.ID, strings.ReplaceAll(string(wo.Status), "_", " "), wo.Priority)

	case ActionList:
		filter := store.WorkOrderFilter{ActiveOnly: true, AssetID: intent.AssetID, Limit: p.listLimit}
		if opts.User != "" && strings.Contains(strings.ToLower(transcript), "my ") {
			filter.AssignedTo = opts.User
		}
		items, total, err := p.store.ListWorkOrders(ctx, filter)
		if err != nil {
			return nil, err
		}
		result.WorkOrders = items
		result.Message = fmt.Sprintf("%d open work order(s)", total)

	default:
		return nil, ErrNotUnderstood
	}
	return result, nil
}

func (p *Processor) publish(ctx context.Context, eventType events.EventType, wo *types.WorkOrder, user string) {
	if p.publisher == nil {
		return
	}
	event := events.New(eventType, "voice", map[string]interface{}{
		"id":       wo.ID,
		"title":    wo.Title,
		"priority": string(wo.Priority),
		"category": string(wo.Category),
		"status":   string(wo.Status),
	})
	event.User = user
	p.publisher.Publish(ctx, event)
}

func userOr(user string) string {
	if user == "" {
		return "anonymous"
	}
	return user
}
