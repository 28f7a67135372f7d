package verification_test

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"invoicechain/internal/chain"
	"invoicechain/internal/journal"
	"invoicechain/pkg/models"
)

type fakeRepo struct {
	mu           sync.Mutex
	invoices     []models.Invoice
	detailErr    error
	verifyStatus string
	verifyErr    error
	issueErr     error
	listErr      error
	calls        map[string]int
	issued       [][]string
}

func newFakeRepo(invoices ...models.Invoice) *fakeRepo {
	return &fakeRepo{invoices: invoices, verifyStatus: "VERIFIED", calls: make(map[string]int)}
}

func (r *fakeRepo) count(method string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[method]
}

func (r *fakeRepo) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		n += c
	}
	return n
}

func (r *fakeRepo) List(context.Context) ([]models.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls["List"]++
	if r.listErr != nil {
		return nil, r.listErr
	}
	return append([]models.Invoice(nil), r.invoices...), nil
}

func (r *fakeRepo) Detail(_ context.Context, invoiceNumber string) ([]models.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls["Detail"]++
	if r.detailErr != nil {
		return nil, r.detailErr
	}
	var out []models.Invoice
	for _, inv := range r.invoices {
		if inv.InvoiceNumber == invoiceNumber {
			out = append(out, inv)
		}
	}
	return out, nil
}

func (r *fakeRepo) Create(context.Context, models.CreateInvoiceRequest) (*models.Invoice, error) {
	return nil, fmt.Errorf("not implemented")
}

func (r *fakeRepo) Verify(_ context.Context, id string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls["Verify"]++
	if r.verifyErr != nil {
		return "", r.verifyErr
	}
	if r.verifyStatus == string(models.StatusVerified) {
		r.setStatusLocked(id, models.StatusVerified)
	}
	return r.verifyStatus, nil
}

func (r *fakeRepo) Issue(_ context.Context, ids []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls["Issue"]++
	if r.issueErr != nil {
		return r.issueErr
	}
	r.issued = append(r.issued, append([]string(nil), ids...))
	for _, id := range ids {
		r.setStatusLocked(id, models.StatusIssued)
	}
	return nil
}

func (r *fakeRepo) Delete(context.Context, string, string) error {
	return fmt.Errorf("not implemented")
}

func (r *fakeRepo) setStatusLocked(id string, status models.Status) {
	for i := range r.invoices {
		if r.invoices[i].ID == id {
			r.invoices[i].Status = status
		}
	}
}

type fakeChain struct {
	mu        sync.Mutex
	err       error
	submitted []models.ChainInvoice
	handles   []*chain.Handle
}

func (c *fakeChain) Submit(_ context.Context, invoices []models.ChainInvoice) (*chain.Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.submitted = append(c.submitted, invoices...)
	if c.err != nil {
		return nil, c.err
	}
	n := len(c.handles) + 1
	h := chain.NewHandle(fmt.Sprintf("corr-%d", n))
	h.SetHash(common.BigToHash(big.NewInt(int64(n))))
	c.handles = append(c.handles, h)
	return h, nil
}

func (c *fakeChain) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.submitted)
}

type memJournal struct {
	mu      sync.Mutex
	entries []journal.Entry
}

func (j *memJournal) Record(_ context.Context, e journal.Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, e)
	return nil
}

func (j *memJournal) all() []journal.Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]journal.Entry(nil), j.entries...)
}
