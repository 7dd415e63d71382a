package content

import "github.com/tupa/pkg/models"

// Remote collection names
const (
	CollectionMessages = "messages"
	CollectionEvents   = "events"
	CollectionVendors  = "vendors"
)

// MessageSchema fetches the newest window messages, shown oldest first
func MessageSchema(window int) Schema[models.Message] {
	return Schema[models.Message]{
		Name:       CollectionMessages,
		OrderBy:    "created_at",
		Descending: true,
		Limit:      window,
		Reverse:    true,
		ID:         func(m *models.Message) string { return m.ID },
		Owner:      func(m *models.Message) string { return m.AuthorRef },
		SetOwner:   func(m *models.Message, ref string) { m.AuthorRef = ref },
	}
}

// EventSchema lists every event by start time
func EventSchema() Schema[models.Event] {
	return Schema[models.Event]{
		Name:     CollectionEvents,
		OrderBy:  "start_time",
		ID:       func(e *models.Event) string { return e.ID },
		Owner:    func(e *models.Event) string { return e.CreatorRef },
		SetOwner: func(e *models.Event, ref string) { e.CreatorRef = ref },
	}
}

// VendorSchema lists every vendor, newest first
func VendorSchema() Schema[models.Vendor] {
	return Schema[models.Vendor]{
		Name:       CollectionVendors,
		OrderBy:    "created_at",
		Descending: true,
		ID:         func(v *models.Vendor) string { return v.ID },
		Owner:      func(v *models.Vendor) string { return v.CreatorRef },
		SetOwner:   func(v *models.Vendor, ref string) { v.CreatorRef = ref },
	}
}
