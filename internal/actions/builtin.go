package actions

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"eventline/internal/booking"
	"eventline/internal/domain"
	"eventline/internal/logging"
	"eventline/internal/reconcile"
)

// Booking is the booking-system surface the actions use. *booking.Client
// satisfies it.
type Booking interface {
	Event(ctx context.Context, eventID string) (booking.EventView, error)
	UpsertContent(ctx context.Context, eventID, name, contentID string) error
	AddPart(ctx context.Context, requestID string, payload map[string]any) (map[string]any, error)
	AddSuppliers(ctx context.Context, requestID string, suppliers []booking.SupplierRef) error
	AddSuppliersAndSend(ctx context.Context, requestID string, suppliers []booking.SupplierRef) error
	Boundaries(ctx context.Context, location string) (booking.Boundaries, bool, error)
	SearchSuppliers(ctx context.Context, q booking.SupplierQuery, box *booking.Boundaries) (booking.SupplierPage, error)
}

type Reconciler interface {
	ReconcileRun(ctx context.Context, runID string, req reconcile.Request) (reconcile.Result, bool, error)
}

type CategoryMatcher interface {
	MatchCategories(ctx context.Context, name string, allowed []string) ([]int64, error)
}

type Deps struct {
	Booking    Booking
	Reconciler Reconciler
	Catalog    CategoryMatcher
	Allowed    []string
	Location   *time.Location
	Logger     *zap.Logger
}

const (
	CreateEvent           = "create_event"
	GetEventDetail        = "get_event_detail"
	AddOrUpdateContent    = "add_or_update_content"
	AddContentPart        = "add_content_part"
	AddSuppliersToContent = "add_suppliers_to_content"
	FetchSuppliers        = "fetch_suppliers"
)

const (
	DefaultSupplierFields = "id,supplier_name,town,country_code,status,match_status,el_supplier_id,description,rating,supplier_descriptions,reviews_summaries"
	maxSupplierResults    = 10
)

var ValidSortFields = []string{"supplier_name", "rating", "created_at", "checked_at", "created_in_el"}

// Register adds the booking actions to r.
func Register(r *Registry, d Deps) error {
	if d.Location == nil {
		d.Location = time.Local
	}
	d.Logger = logging.OrNop(d.Logger)
	for _, a := range []*Action{
		createEventAction(d),
		getEventDetailAction(d),
		addOrUpdateContentAction(d),
		addContentPartAction(d),
		addSuppliersAction(d),
		fetchSuppliersAction(d),
	} {
		if err := r.Register(a); err != nil {
			return err
		}
	}
	return nil
}

func createEventAction(d Deps) *Action {
	return &Action{
		Name:        CreateEvent,
		Description: "Create the event in the booking system from the final draft with suppliers.",
		Parameters: object(map[string]any{
			"user_email": str("The email of the user creating the event."),
			"action": enum("What to do after creating the event.",
				"create", "create_and_add_suppliers", "create_add_suppliers_and_send_requests"),
		}, "user_email", "action"),
		Handler: func(ctx context.Context, call Call) (any, error) {
			var args struct {
				Email  string `json:"user_email"`
				Action string `json:"action"`
			}
			if err := decodeArgs(call, &args); err != nil {
				return nil, err
			}
			mode, err := reconcile.ParseMode(args.Action)
			if err != nil {
				return nil, err
			}
			req, err := reconcile.FromDocument(call.Doc, args.Email, mode)
			if err != nil {
				return nil, err
			}
			res, shared, err := d.Reconciler.ReconcileRun(ctx, call.RunID, req)
			if shared {
				d.Logger.Info("joined in-flight reconciliation", zap.String("run_id", call.RunID))
			}
			if err != nil {
				return nil, err
			}
			return res, nil
		},
	}
}

func getEventDetailAction(d Deps) *Action {
	return &Action{
		Name:        GetEventDetail,
		Description: "Fetch an event from the booking system.",
		Parameters: object(map[string]any{
			"event_id": integer("The ID of the event to fetch details for."),
		}, "event_id"),
		Handler: func(ctx context.Context, call Call) (any, error) {
			var args struct {
				EventID domain.ID `json:"event_id"`
			}
			if err := decodeArgs(call, &args); err != nil {
				return nil, err
			}
			if args.EventID == "" {
				return nil, fmt.Errorf("%w: event_id is required", ErrBadArgs)
			}
			view, err := d.Booking.Event(ctx, string(args.EventID))
			if err != nil {
				return nil, err
			}
			view.StartDate = msToDate(view.StartDate, d.Location)
			view.EndDate = msToDate(view.EndDate, d.Location)
			return view, nil
		},
	}
}

func addOrUpdateContentAction(d Deps) *Action {
	return &Action{
		Name:        AddOrUpdateContent,
		Description: "Add a content to an event, or rename an existing one, and return its latest details.",
		Parameters: object(map[string]any{
			"event_id":     integer("The ID of the event."),
			"content_name": str("The name of the content to add or update."),
			"content_id":   integer("The ID of the content to update, when updating."),
		}, "event_id", "content_name"),
		Handler: func(ctx context.Context, call Call) (any, error) {
			var args struct {
				EventID   domain.ID `json:"event_id"`
				Name      string    `json:"content_name"`
				ContentID domain.ID `json:"content_id"`
			}
			if err := decodeArgs(call, &args); err != nil {
				return nil, err
			}
			if args.EventID == "" || strings.TrimSpace(args.Name) == "" {
				return nil, fmt.Errorf("%w: event_id and content_name are required", ErrBadArgs)
			}
			if err := d.Booking.UpsertContent(ctx, string(args.EventID), args.Name, string(args.ContentID)); err != nil {
				return nil, err
			}
			out := map[string]any{"success": true}
			view, err := d.Booking.Event(ctx, string(args.EventID))
			if err != nil {
				out["message"] = "content saved but details could not be retrieved"
				return out, nil
			}
			if c, ok := view.Content(args.Name); ok {
				out["content_details"] = c
			} else {
				out["message"] = "content saved but not visible yet"
			}
			return out, nil
		},
	}
}

func addContentPartAction(d Deps) *Action {
	return &Action{
		Name:        AddContentPart,
		Description: "Add a part to a content request in the booking system.",
		Parameters: object(map[string]any{
			"content_id":     integer("The request ID of the content to add a part to."),
			"name":           str("The name of the part."),
			"amount":         integer("The amount for this part."),
			"amount_type":    enum("The type of amount.", string(domain.AmountPeople), string(domain.AmountPieces)),
			"timeless":       boolean("Whether the part has no date and time."),
			"date":           str("YYYY-MM-DD, required unless timeless."),
			"time":           str("HH:MM start time, required unless timeless."),
			"duration_hours": str("Duration as 'hours,minutes', e.g. '2,30'. Required unless timeless."),
		}, "content_id", "name", "amount", "amount_type", "timeless"),
		Handler: func(ctx context.Context, call Call) (any, error) {
			var args struct {
				ContentID  domain.ID     `json:"content_id"`
				Name       string        `json:"name"`
				Amount     *domain.Count `json:"amount"`
				AmountType string        `json:"amount_type"`
				Timeless   bool          `json:"timeless"`
				Date       string        `json:"date"`
				Time       string        `json:"time"`
				Duration   string        `json:"duration_hours"`
			}
			if err := decodeArgs(call, &args); err != nil {
				return nil, err
			}
			if args.ContentID == "" {
				return nil, fmt.Errorf("%w: content_id is required", ErrBadArgs)
			}
			amount := -1
			if args.Amount != nil {
				amount = int(*args.Amount)
			}
			part, err := domain.NewPart(args.Name, amount, domain.AmountType(strings.ToUpper(args.AmountType)),
				args.Timeless, args.Date, args.Time, args.Duration)
			if err != nil {
				return nil, err
			}
			payload, err := reconcile.PartPayload(part, d.Location)
			if err != nil {
				return nil, err
			}
			resp, err := d.Booking.AddPart(ctx, string(args.ContentID), payload)
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"success": true,
				"message": fmt.Sprintf("part %q added to content %s", part.Name, args.ContentID),
				"part_id": resp["id"],
			}, nil
		},
	}
}

func addSuppliersAction(d Deps) *Action {
	return &Action{
		Name:        AddSuppliersToContent,
		Description: "Attach suppliers to a content request and optionally send the request to them.",
		Parameters: object(map[string]any{
			"content_id":    integer("The request ID of the content."),
			"supplier_ids":  map[string]any{"type": "array", "items": map[string]any{"type": "integer"}, "description": "Booking-system supplier IDs."},
			"send_requests": boolean("Whether to send the request to the suppliers now."),
		}, "content_id", "supplier_ids"),
		Handler: func(ctx context.Context, call Call) (any, error) {
			var args struct {
				ContentID   domain.ID   `json:"content_id"`
				SupplierIDs []domain.ID `json:"supplier_ids"`
				Send        bool        `json:"send_requests"`
			}
			if err := decodeArgs(call, &args); err != nil {
				return nil, err
			}
			if args.ContentID == "" || len(args.SupplierIDs) == 0 {
				return nil, fmt.Errorf("%w: content_id and supplier_ids are required", ErrBadArgs)
			}
			refs := make([]booking.SupplierRef, 0, len(args.SupplierIDs))
			for _, id := range args.SupplierIDs {
				refs = append(refs, booking.SupplierRef{ID: string(id)})
			}
			requestID := string(args.ContentID)
			if err := d.Booking.AddSuppliers(ctx, requestID, refs); err != nil {
				return nil, err
			}
			if args.Send {
				for i := range refs {
					refs[i].Send = true
				}
				if err := d.Booking.AddSuppliersAndSend(ctx, requestID, refs); err != nil {
					return nil, err
				}
			}
			return map[string]any{"success": true, "sent_requests": args.Send, "suppliers": len(refs)}, nil
		},
	}
}

type fetchArgs struct {
	Name        string            `json:"name"`
	Location    string            `json:"location"`
	MinRating   *float64          `json:"minRating"`
	MaxRating   *float64          `json:"maxRating"`
	Categories  domain.StringList `json:"categories"`
	MatchStatus string            `json:"matchStatus"`
	Limit       *int              `json:"limit"`
	Offset      int               `json:"offset"`
	SortBy      string            `json:"sort_by"`
	SortOrder   string            `json:"sort_order"`
	Fields      string            `json:"fields"`
}

func fetchSuppliersAction(d Deps) *Action {
	return &Action{
		Name:        FetchSuppliers,
		Description: "Search the supplier directory. Returns at most 10 suppliers.",
		Parameters: object(map[string]any{
			"name":        str("Filter by supplier name."),
			"location":    str("Filter by location, e.g. 'Stockholm' or 'West coast of Sweden'."),
			"minRating":   number("Minimum rating (0-5)."),
			"maxRating":   number("Maximum rating (0-5)."),
			"categories":  map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "Categories. Allowed: " + strings.Join(d.Allowed, ", ")},
			"matchStatus": str("Filter by match status."),
			"limit":       integer("Maximum number of results (1-10)."),
			"offset":      integer("Number of results to skip."),
			"sort_by":     enum("Field to sort by.", ValidSortFields...),
			"sort_order":  enum("Sort order.", "asc", "desc"),
		}),
		Handler: func(ctx context.Context, call Call) (any, error) {
			var args fetchArgs
			if err := decodeArgs(call, &args); err != nil {
				return nil, err
			}
			q, err := supplierQuery(args)
			if err != nil {
				return nil, err
			}
			if len(args.Categories) > 0 {
				var invalid []string
				for _, name := range args.Categories {
					if !allowedCategory(name, d.Allowed) {
						invalid = append(invalid, name)
						continue
					}
					ids, err := d.Catalog.MatchCategories(ctx, name, d.Allowed)
					if err != nil {
						return nil, err
					}
					if len(ids) == 0 {
						invalid = append(invalid, name)
					}
					q.CategoryIDs = append(q.CategoryIDs, ids...)
				}
				if len(q.CategoryIDs) == 0 {
					return nil, fmt.Errorf("%w: no valid categories found (invalid: %s); allowed categories are: %s",
						ErrBadArgs, strings.Join(invalid, ", "), strings.Join(d.Allowed, ", "))
				}
			}
			var box *booking.Boundaries
			if args.Location != "" {
				b, ok, err := d.Booking.Boundaries(ctx, args.Location)
				if err != nil {
					return nil, err
				}
				if ok {
					box = &b
				}
			}
			page, err := d.Booking.SearchSuppliers(ctx, q, box)
			if err != nil {
				return nil, err
			}
			if len(page.Suppliers) > maxSupplierResults {
				page.Suppliers = page.Suppliers[:maxSupplierResults]
			}
			return page, nil
		},
	}
}

func supplierQuery(args fetchArgs) (booking.SupplierQuery, error) {
	q := booking.SupplierQuery{
		Name:        args.Name,
		Location:    args.Location,
		MinRating:   0,
		MaxRating:   5,
		MatchStatus: args.MatchStatus,
		Limit:       maxSupplierResults,
		Offset:      args.Offset,
		SortBy:      "supplier_name",
		SortOrder:   "asc",
		Fields:      DefaultSupplierFields,
	}
	if args.MinRating != nil {
		q.MinRating = *args.MinRating
	}
	if args.MaxRating != nil {
		q.MaxRating = *args.MaxRating
	}
	if args.Limit != nil {
		q.Limit = max(1, min(maxSupplierResults, *args.Limit))
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	if args.SortBy != "" {
		if !contains(ValidSortFields, args.SortBy) {
			return q, fmt.Errorf("%w: invalid sort_by field: %s; allowed fields are: %s",
				ErrBadArgs, args.SortBy, strings.Join(ValidSortFields, ", "))
		}
		q.SortBy = args.SortBy
	}
	switch strings.ToLower(args.SortOrder) {
	case "":
	case "asc", "desc":
		q.SortOrder = strings.ToLower(args.SortOrder)
	default:
		return q, fmt.Errorf("%w: sort_order must be asc or desc", ErrBadArgs)
	}
	if args.Fields != "" {
		q.Fields = args.Fields
	}
	return q, nil
}

func allowedCategory(name string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if strings.EqualFold(a, strings.TrimSpace(name)) {
			return true
		}
	}
	return false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// msToDate renders an epoch-milliseconds value as YYYY-MM-DD and leaves
// anything else untouched.
func msToDate(v string, loc *time.Location) string {
	ms, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return v
	}
	return time.UnixMilli(int64(ms)).In(loc).Format(domain.DateLayout)
}
