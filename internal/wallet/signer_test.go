package wallet_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"invoicechain/internal/wallet"
)

func newRequest(t *testing.T) wallet.SignRequest {
	t.Helper()
	to := common.HexToAddress("0x00000000000000000000000000000000000000c0")
	return wallet.SignRequest{
		CorrelationID: "corr-1",
		Summary:       "anchor INV-1001",
		ChainID:       big.NewInt(688688),
		Tx: types.NewTx(&types.LegacyTx{
			Nonce:    1,
			GasPrice: big.NewInt(1_000_000_000),
			Gas:      200_000,
			To:       &to,
			Value:    big.NewInt(0),
			Data:     []byte{0x01, 0x02},
		}),
	}
}

func TestSignTxOutcomes(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	tests := []struct {
		name     string
		approver wallet.Approver
		want     wallet.Outcome
	}{
		{"approved", wallet.AutoApprover{}, wallet.OutcomeApproved},
		{"rejected", wallet.ApproverFunc(func(context.Context, wallet.ApprovalRequest) (bool, error) { return false, nil }), wallet.OutcomeRejected},
		{"cancelled", wallet.ApproverFunc(func(context.Context, wallet.ApprovalRequest) (bool, error) { return false, context.Canceled }), wallet.OutcomeRejected},
		{"errored", wallet.ApproverFunc(func(context.Context, wallet.ApprovalRequest) (bool, error) { return false, errors.New("tty gone") }), wallet.OutcomeErrored},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signer, err := wallet.NewKeystoreSigner(key, tt.approver)
			require.NoError(t, err)

			result := signer.SignTx(context.Background(), newRequest(t))
			require.Equal(t, tt.want, result.Outcome)

			if tt.want == wallet.OutcomeApproved {
				sender, err := types.Sender(types.LatestSignerForChainID(big.NewInt(688688)), result.Tx)
				require.NoError(t, err)
				require.Equal(t, signer.Address(), sender)
			} else {
				require.Nil(t, result.Tx)
			}
		})
	}
}

func TestSignTextRecoversAddress(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer, err := wallet.NewKeystoreSigner(key, wallet.AutoApprover{})
	require.NoError(t, err)

	sigHex, err := signer.SignText([]byte("login nonce 42"))
	require.NoError(t, err)

	sig, err := hexutil.Decode(sigHex)
	require.NoError(t, err)
	require.Len(t, sig, 65)
	sig[64] -= 27

	pub, err := crypto.SigToPub(accounts.TextHash([]byte("login nonce 42")), sig)
	require.NoError(t, err)
	require.Equal(t, signer.Address(), crypto.PubkeyToAddress(*pub))
}

func TestTerminalApprover(t *testing.T) {
	var out bytes.Buffer
	approver := &wallet.TerminalApprover{In: strings.NewReader("y\n"), Out: &out}

	ok, err := approver.Approve(context.Background(), wallet.ApprovalRequest{CorrelationID: "c1", Summary: "anchor INV-1001"})
	require.NoError(t, err)
	require.True(t, ok)
	require.Contains(t, out.String(), "anchor INV-1001")

	approver = &wallet.TerminalApprover{In: strings.NewReader("\n"), Out: &out}
	ok, err = approver.Approve(context.Background(), wallet.ApprovalRequest{CorrelationID: "c2"})
	require.NoError(t, err)
	require.False(t, ok)
}

type promptWriter struct {
	mu      sync.Mutex
	buf     bytes.Buffer
	prompts chan struct{}
}

func (w *promptWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if bytes.Contains(p, []byte("[y/N]")) {
		w.prompts <- struct{}{}
	}
	return w.buf.Write(p)
}

func TestTerminalApproverAfterCancelledPrompt(t *testing.T) {
	in, typed := io.Pipe()
	t.Cleanup(func() { _ = typed.Close() })
	out := &promptWriter{prompts: make(chan struct{}, 4)}
	approver := &wallet.TerminalApprover{In: in, Out: out}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ok, err := approver.Approve(ctx, wallet.ApprovalRequest{CorrelationID: "c1"})
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, ok)
	<-out.prompts

	answer := func(id, line string) bool {
		t.Helper()
		type result struct {
			ok  bool
			err error
		}
		done := make(chan result, 1)
		go func() {
			ok, err := approver.Approve(context.Background(), wallet.ApprovalRequest{CorrelationID: id})
			done <- result{ok, err}
		}()
		select {
		case <-out.prompts:
		case <-time.After(2 * time.Second):
			t.Fatalf("no prompt for %s", id)
		}
		_, err := typed.Write([]byte(line))
		require.NoError(t, err)
		select {
		case r := <-done:
			require.NoError(t, r.err)
			return r.ok
		case <-time.After(2 * time.Second):
			t.Fatalf("no answer for %s", id)
			return false
		}
	}

	require.True(t, answer("c2", "y\n"))
	require.False(t, answer("c3", "n\n"))
	require.True(t, answer("c4", "yes\n"))
}

func TestQueueApprover(t *testing.T) {
	queue := wallet.NewQueueApprover()

	decided := make(chan bool, 1)
	go func() {
		ok, err := queue.Approve(context.Background(), wallet.ApprovalRequest{CorrelationID: "c1"})
		require.NoError(t, err)
		decided <- ok
	}()

	require.Eventually(t, func() bool { return len(queue.Pending()) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, queue.Decide("c1", true))
	require.True(t, <-decided)
	require.ErrorIs(t, queue.Decide("c1", false), wallet.ErrNoPendingApproval)
	require.Empty(t, queue.Pending())
}

func TestQueueApproverCancel(t *testing.T) {
	queue := wallet.NewQueueApprover()
	ctx, cancel := context.WithCancel(context.Background())

	errs := make(chan error, 1)
	go func() {
		_, err := queue.Approve(ctx, wallet.ApprovalRequest{CorrelationID: "c1"})
		errs <- err
	}()

	require.Eventually(t, func() bool { return len(queue.Pending()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	require.ErrorIs(t, <-errs, context.Canceled)
	require.Empty(t, queue.Pending())
}
