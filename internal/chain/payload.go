package chain

import (
	"bytes"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"invoicechain/pkg/models"
)

// InvoiceRegistryABI is the subset of the registry contract the client calls.
const InvoiceRegistryABI = `[
  {
    "type": "function",
    "name": "batchCreateInvoices",
    "stateMutability": "nonpayable",
    "inputs": [
      {
        "name": "invoices",
        "type": "tuple[]",
        "components": [
          {"name": "invoiceNumber", "type": "string"},
          {"name": "payee", "type": "address"},
          {"name": "payer", "type": "address"},
          {"name": "amount", "type": "uint256"},
          {"name": "ipfsHash", "type": "string"},
          {"name": "contractHash", "type": "string"},
          {"name": "timestamp", "type": "uint256"},
          {"name": "dueDate", "type": "uint256"},
          {"name": "tokenBatch", "type": "string"},
          {"name": "isCleared", "type": "bool"},
          {"name": "isValid", "type": "bool"}
        ]
      }
    ],
    "outputs": []
  }
]`

const batchCreateMethod = "batchCreateInvoices"

// invoiceTuple mirrors the contract struct; field order matters for decoding.
type invoiceTuple struct {
	InvoiceNumber string         `abi:"invoiceNumber"`
	Payee         common.Address `abi:"payee"`
	Payer         common.Address `abi:"payer"`
	Amount        *big.Int       `abi:"amount"`
	IpfsHash      string         `abi:"ipfsHash"`
	ContractHash  string         `abi:"contractHash"`
	Timestamp     *big.Int       `abi:"timestamp"`
	DueDate       *big.Int       `abi:"dueDate"`
	TokenBatch    string         `abi:"tokenBatch"`
	IsCleared     bool           `abi:"isCleared"`
	IsValid       bool           `abi:"isValid"`
}

var registryABI = mustParseABI()

func mustParseABI() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(InvoiceRegistryABI))
	if err != nil {
		panic(fmt.Sprintf("chain: invalid registry ABI: %v", err))
	}
	return parsed
}

// EncodeBatch ABI-encodes a batchCreateInvoices call.
func EncodeBatch(invoices []models.ChainInvoice) ([]byte, error) {
	if len(invoices) == 0 {
		return nil, fmt.Errorf("%w: empty batch", ErrInvalidPayload)
	}
	tuples := make([]invoiceTuple, 0, len(invoices))
	for _, inv := range invoices {
		tuple, err := toTuple(inv)
		if err != nil {
			return nil, err
		}
		tuples = append(tuples, tuple)
	}
	data, err := registryABI.Pack(batchCreateMethod, tuples)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	return data, nil
}

// DecodeBatch reverses EncodeBatch. Addresses come back checksummed.
func DecodeBatch(data []byte) ([]models.ChainInvoice, error) {
	method := registryABI.Methods[batchCreateMethod]
	if len(data) < 4 || !bytes.Equal(data[:4], method.ID) {
		return nil, fmt.Errorf("%w: not a %s call", ErrInvalidPayload, batchCreateMethod)
	}
	values, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	var tuples []invoiceTuple
	if err := method.Inputs.Copy(&tuples, values); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}

	invoices := make([]models.ChainInvoice, 0, len(tuples))
	for _, t := range tuples {
		invoices = append(invoices, models.ChainInvoice{
			InvoiceNumber: t.InvoiceNumber,
			Payee:         t.Payee.Hex(),
			Payer:         t.Payer.Hex(),
			Amount:        bigString(t.Amount),
			IPFSHash:      t.IpfsHash,
			ContractHash:  t.ContractHash,
			Timestamp:     bigString(t.Timestamp),
			DueDate:       bigString(t.DueDate),
			TokenBatch:    t.TokenBatch,
			IsCleared:     t.IsCleared,
			IsValid:       t.IsValid,
		})
	}
	return invoices, nil
}

func toTuple(inv models.ChainInvoice) (invoiceTuple, error) {
	if strings.TrimSpace(inv.InvoiceNumber) == "" {
		return invoiceTuple{}, fmt.Errorf("%w: invoice number is required", ErrInvalidPayload)
	}
	payee, err := parseAddress("payee", inv.Payee)
	if err != nil {
		return invoiceTuple{}, err
	}
	payer, err := parseAddress("payer", inv.Payer)
	if err != nil {
		return invoiceTuple{}, err
	}
	amount, err := parseUint("amount", inv.Amount)
	if err != nil {
		return invoiceTuple{}, err
	}
	timestamp, err := parseUint("timestamp", inv.Timestamp)
	if err != nil {
		return invoiceTuple{}, err
	}
	dueDate, err := parseUint("dueDate", inv.DueDate)
	if err != nil {
		return invoiceTuple{}, err
	}
	return invoiceTuple{
		InvoiceNumber: inv.InvoiceNumber,
		Payee:         payee,
		Payer:         payer,
		Amount:        amount,
		IpfsHash:      inv.IPFSHash,
		ContractHash:  inv.ContractHash,
		Timestamp:     timestamp,
		DueDate:       dueDate,
		TokenBatch:    inv.TokenBatch,
		IsCleared:     inv.IsCleared,
		IsValid:       inv.IsValid,
	}, nil
}

func parseAddress(field, value string) (common.Address, error) {
	value = strings.TrimSpace(value)
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("%w: %s %q is not a hex address", ErrInvalidPayload, field, value)
	}
	return common.HexToAddress(value), nil
}

func parseUint(field, value string) (*big.Int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, fmt.Errorf("%w: %s is required", ErrInvalidPayload, field)
	}
	v, err := uint256.FromDecimal(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %q: %w", ErrInvalidPayload, field, value, err)
	}
	return v.ToBig(), nil
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
