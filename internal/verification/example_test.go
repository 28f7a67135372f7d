package verification_test

import (
	"errors"
	"fmt"

	"invoicechain/internal/verification"
	"invoicechain/pkg/models"
)

func ExampleFilter() {
	invoices := []models.Invoice{
		{ID: "a1", InvoiceNumber: "INV-1001", Status: models.StatusPending},
		{ID: "b2", InvoiceNumber: "INV-1002", Status: models.StatusVerified},
	}

	for _, inv := range verification.Filter(invoices, "verified") {
		fmt.Println(inv.InvoiceNumber, inv.Status)
	}
	// Output: INV-1002 VERIFIED
}

func ExampleKindName() {
	err := &verification.Error{Op: "Verify", InvoiceID: "a1", Kind: verification.ErrUserCancellation}

	fmt.Println(errors.Is(err, verification.ErrUserCancellation))
	fmt.Println(verification.KindName(err))
	fmt.Println(err)
	// Output:
	// true
	// cancelled
	// Verify a1: cancelled by user
}
