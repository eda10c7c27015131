package domain

import "time"

// Validation lifecycle of an order. Deleted is a soft state and the only
// reversible one (restore moves it back to pending).
const (
	ValidationPending   = "pending"
	ValidationValidated = "validated"
	ValidationBlocked   = "blocked"
	ValidationCanceled  = "canceled"
	ValidationDeleted   = "deleted"
)

// Activation progress, driven by operational staff independently of the
// validation lifecycle.
const (
	ActivationStudy      = "study"
	ActivationToProcess  = "to_process"
	ActivationInProgress = "in_progress"
	ActivationInstalled  = "installed"
	ActivationBilled     = "billed"
	ActivationBlocked    = "blocked"
	ActivationCanceled   = "canceled"
)

// Inventory item statuses.
const (
	ItemInStock   = "in_stock"
	ItemAssigned  = "assigned"
	ItemInstalled = "installed"
	ItemReturned  = "returned"
)

// Order is the central record. One collection document holds every order;
// there is no per-record addressing in the store.
type Order struct {
	ID          string `json:"id"`
	ContractRef string `json:"contract_ref,omitempty"`
	ExternalRef string `json:"external_ref,omitempty"`
	ExternalID  string `json:"external_id,omitempty"`

	Company     string `json:"company,omitempty"`
	ContactName string `json:"contact_name,omitempty"`
	Phone       string `json:"phone,omitempty"`
	Address     string `json:"address,omitempty"`
	City        string `json:"city,omitempty"`
	PostalCode  string `json:"postal_code,omitempty"`
	AgentID     string `json:"agent_id,omitempty"`
	AgentName   string `json:"agent_name,omitempty"`
	AccountRef  string `json:"account_ref,omitempty"`
	Product     string `json:"product,omitempty"`

	SerialNumber   string `json:"serial_number,omitempty"`
	VerifiedSerial string `json:"verified_serial,omitempty"`
	PhoneConfirmed bool   `json:"phone_confirmed,omitempty"`

	ValidationState  string `json:"validation_state" enum:"pending,validated,blocked,canceled,deleted"`
	ValidationReason string `json:"validation_reason,omitempty"`
	ActivationState  string `json:"activation_state" enum:"study,to_process,in_progress,installed,billed,blocked,canceled"`
	ActivationReason string `json:"activation_reason,omitempty"`

	ManuallyCreated bool    `json:"manually_created"`
	LastEditedAt    *string `json:"last_edited_at,omitempty" format:"date-time"`

	CreatedAt   string  `json:"created_at" format:"date-time"`
	ProcessedAt string  `json:"processed_at,omitempty" format:"date-time"`
	ValidatedAt *string `json:"validated_at,omitempty" format:"date-time"`
	ActivatedAt *string `json:"activated_at,omitempty" format:"date-time"`
}

// StatusModified reports whether anything beyond the import defaults has
// touched the record: manual creation, a phone confirmation, or either
// lifecycle moved off its initial state.
func (o Order) StatusModified() bool {
	if o.ManuallyCreated || o.PhoneConfirmed {
		return true
	}
	if o.ValidationState != "" && o.ValidationState != ValidationPending {
		return true
	}
	if o.ActivationState != "" && o.ActivationState != ActivationStudy {
		return true
	}
	return false
}

// Deleted reports whether the record is soft-deleted.
func (o Order) Deleted() bool {
	return o.ValidationState == ValidationDeleted
}

// ProcessedTime parses the processing timestamp; zero time when absent or
// malformed so callers can compare without a second error path.
func (o Order) ProcessedTime() time.Time {
	ts := o.ProcessedAt
	if ts == "" {
		ts = o.CreatedAt
	}
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return time.Time{}
	}
	return t
}

// InventoryItem is a stock/serial catalog entry kept in its own collection.
type InventoryItem struct {
	ID           string `json:"id"`
	SerialNumber string `json:"serial_number"`
	Product      string `json:"product,omitempty"`
	Status       string `json:"status" enum:"in_stock,assigned,installed,returned"`
	OrderID      string `json:"order_id,omitempty"`
	UpdatedAt    string `json:"updated_at,omitempty" format:"date-time"`
}
