package model

import (
	"encoding/json"
	"time"
)

// Subject is a catalog subject heading.
type Subject struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// AcquisitionRequest is a request to purchase a title.
type AcquisitionRequest struct {
	RequestedOn Date   `json:"requestDate"`
	ID          string `json:"id"`
	Title       string `json:"title"`
	Author      string `json:"author,omitempty"`
	RequestedBy string `json:"requestedBy,omitempty"`
	Status      string `json:"status,omitempty"`
}

// MarcTagDefinition describes a MARC field tag.
type MarcTagDefinition struct {
	Tag   string `json:"tag"`
	Label string `json:"label"`
}

// Snapshot is the full state returned by a gateway load.
type Snapshot struct {
	Titles              []Title              `json:"books"`
	Patrons             []Patron             `json:"patrons"`
	Subjects            []Subject            `json:"subjects"`
	AcquisitionRequests []AcquisitionRequest `json:"acquisitions"`
	MarcTagDefinitions  []MarcTagDefinition  `json:"marcTags"`
}

// ActionName is a gateway command.
type ActionName string

// Gateway commands issued by the domain store.
const (
	ActionAddPatron          ActionName = "addPatron"
	ActionUpdatePatron       ActionName = "updatePatron"
	ActionUpdatePatronsBatch ActionName = "updatePatronsBatch"
	ActionDeletePatron       ActionName = "deletePatron"
	ActionUpdateBookStatus   ActionName = "updateBookStatus"
	ActionUpdateBookDetails  ActionName = "updateBookDetails"
)

// Action is one mutation to mirror to the gateway. Payload always carries a
// full replacement object, never a diff. ID doubles as the idempotency key.
type Action struct {
	CreatedAt time.Time       `json:"createdAt"`
	ID        string          `json:"requestId"`
	Name      ActionName      `json:"action"`
	Payload   json.RawMessage `json:"payload"`
}

// DeletePayload is the payload of a deletePatron action.
type DeletePayload struct {
	ID string `json:"id"`
}
