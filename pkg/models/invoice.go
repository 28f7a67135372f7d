package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/holiman/uint256"
)

// Status is the backend lifecycle state of an invoice.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusVerified  Status = "VERIFIED"
	StatusIssued    Status = "ISSUED"
	StatusUnissued  Status = "UNISSUED"
	StatusCompleted Status = "COMPLETED"
)

// Rank orders statuses along the forward-only lifecycle. Unknown statuses rank 0.
func (s Status) Rank() int {
	switch s {
	case StatusPending:
		return 1
	case StatusVerified:
		return 2
	case StatusIssued, StatusUnissued:
		return 3
	case StatusCompleted:
		return 4
	default:
		return 0
	}
}

// Amount is an integer value in the smallest on-chain unit, kept as a decimal
// string so it never passes through a float.
type Amount string

// UnmarshalJSON accepts both `"500"` and `500`.
func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*a = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = Amount(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("amount: %w", err)
	}
	*a = Amount(n.String())
	return nil
}

// MarshalJSON always emits the string form.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(a))
}

// String returns the decimal representation.
func (a Amount) String() string { return string(a) }

// Uint256 parses the amount, rejecting negatives, fractions and overflow.
func (a Amount) Uint256() (*uint256.Int, error) {
	v, err := uint256.FromDecimal(string(a))
	if err != nil {
		return nil, fmt.Errorf("amount %q: %w", string(a), err)
	}
	return v, nil
}

// Big returns the amount as a big.Int.
func (a Amount) Big() (*big.Int, error) {
	v, err := a.Uint256()
	if err != nil {
		return nil, err
	}
	return v.ToBig(), nil
}

// Invoice is the backend's record of a receivable invoice.
type Invoice struct {
	// Core identifiers
	ID            string `json:"id"`             // Backend-assigned key
	InvoiceNumber string `json:"invoice_number"` // Business key, also the on-chain lookup key

	// Parties (wallet addresses)
	Payer string `json:"payer"`
	Payee string `json:"payee"`

	// Amount in smallest on-chain unit
	Amount   Amount `json:"amount"`
	Currency string `json:"currency"`

	DueDate int64  `json:"due_date"` // Unix seconds
	Status  Status `json:"status"`

	// Document pointers
	InvoiceIPFSHash  string `json:"invoice_ipfs_hash"`
	ContractIPFSHash string `json:"contract_ipfs_hash"`

	TokenBatch string `json:"token_batch,omitempty"` // Empty until issuance

	// Chain-confirmed flags
	IsCleared bool `json:"is_cleared"`
	IsValid   bool `json:"is_valid"`

	BlockchainTimestamp string `json:"blockchain_timestamp,omitempty"`
	CreatedAt           string `json:"created_at,omitempty"`
	UpdatedAt           string `json:"updated_at,omitempty"`
}

// DueTime converts DueDate to a time.Time. Zero when unset.
func (i Invoice) DueTime() time.Time {
	if i.DueDate == 0 {
		return time.Time{}
	}
	return time.Unix(i.DueDate, 0).UTC()
}

// CreateInvoiceRequest is the payload accepted by the backend create endpoint.
type CreateInvoiceRequest struct {
	Payee            string `json:"payee"`
	Payer            string `json:"payer"`
	Amount           Amount `json:"amount"`
	InvoiceIPFSHash  string `json:"invoice_ipfs_hash"`
	ContractIPFSHash string `json:"contract_ipfs_hash"`
	DueDate          int64  `json:"due_date"`
	Currency         string `json:"currency"`
}

// ChainInvoice is the payload anchored on chain by batchCreateInvoices.
type ChainInvoice struct {
	InvoiceNumber string `json:"invoiceNumber"`
	Payee         string `json:"payee"`
	Payer         string `json:"payer"`
	Amount        string `json:"amount"`
	IPFSHash      string `json:"ipfsHash"`
	ContractHash  string `json:"contractHash"`
	Timestamp     string `json:"timestamp"`
	DueDate       string `json:"dueDate"`
	TokenBatch    string `json:"tokenBatch"`
	IsCleared     bool   `json:"isCleared"`
	IsValid       bool   `json:"isValid"`
}

// PayloadFromInvoice builds the on-chain payload for inv. submittedAt is the
// wall-clock submission time and is unrelated to the due date.
func PayloadFromInvoice(inv Invoice, submittedAt time.Time) ChainInvoice {
	return ChainInvoice{
		InvoiceNumber: inv.InvoiceNumber,
		Payee:         inv.Payee,
		Payer:         inv.Payer,
		Amount:        inv.Amount.String(),
		IPFSHash:      inv.InvoiceIPFSHash,
		ContractHash:  inv.ContractIPFSHash,
		Timestamp:     strconv.FormatInt(submittedAt.Unix(), 10),
		DueDate:       strconv.FormatInt(inv.DueDate, 10),
		TokenBatch:    inv.TokenBatch,
		IsCleared:     inv.IsCleared,
		IsValid:       inv.IsValid,
	}
}

// Matches reports whether the payload carries inv's identifying fields unchanged.
func (c ChainInvoice) Matches(inv Invoice) bool {
	return c.InvoiceNumber == inv.InvoiceNumber &&
		c.Payer == inv.Payer &&
		c.Payee == inv.Payee &&
		c.Amount == inv.Amount.String()
}
