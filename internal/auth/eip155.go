package auth

import (
	"bytes"
	"context"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"moff.io/walletconnect-sign/internal/chains"
	"moff.io/walletconnect-sign/internal/namespace"
	"moff.io/walletconnect-sign/pkg/errors"
)

// ContractCaller is the chain access smart account verification needs;
// *ethclient.Client implements it.
type ContractCaller interface {
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// CallerProvider returns a caller for a CAIP-2 chain.
type CallerProvider interface {
	Caller(ctx context.Context, chainID string) (ContractCaller, error)
}

// RPCCallers dials the blockchain api of a project, one client per chain.
type RPCCallers struct {
	ProjectID string

	mu      sync.Mutex
	clients map[string]*ethclient.Client
}

func NewRPCCallers(projectID string) *RPCCallers {
	return &RPCCallers{ProjectID: projectID, clients: make(map[string]*ethclient.Client)}
}

func (r *RPCCallers) Caller(ctx context.Context, chainID string) (ContractCaller, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[chainID]; ok {
		return c, nil
	}
	c, err := ethclient.DialContext(ctx, chains.RPCURL(chainID, r.ProjectID))
	if err != nil {
		return nil, errors.Wrapf(err, "dial rpc for %s", chainID)
	}
	r.clients[chainID] = c
	return c, nil
}

// EIP191Verifier recovers a personal_sign signature.
type EIP191Verifier struct{}

func (EIP191Verifier) Verify(_ context.Context, account namespace.Account, message string, signature CacaoSignature) error {
	sig, err := hexutil.Decode(signature.S)
	if err != nil || len(sig) != crypto.SignatureLength {
		return errors.Wrap(ErrSignatureVerificationFailed, "malformed eip191 signature")
	}
	if !recoversTo(accounts.TextHash([]byte(message)), sig, account.Address) {
		return errors.Wrap(ErrSignatureVerificationFailed, "eip191 signer mismatch")
	}
	return nil
}

func recoversTo(hash, sig []byte, address string) bool {
	sig = append([]byte(nil), sig...)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27 // Transform yellow paper V from 27/28 to 0/1
	}
	recovered, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return false
	}
	return crypto.PubkeyToAddress(*recovered) == common.HexToAddress(address)
}

const erc1271ABI = `[{"inputs":[{"name":"hash","type":"bytes32"},{"name":"signature","type":"bytes"}],"name":"isValidSignature","outputs":[{"name":"","type":"bytes4"}],"stateMutability":"view","type":"function"}]`

var (
	erc1271         abi.ABI
	erc1271Magic    = []byte{0x16, 0x26, 0xba, 0x7e}
	erc6492Suffix   = common.FromHex("0x6492649264926492649264926492649264926492649264926492649264926492")
	erc6492Envelope abi.Arguments
)

func init() {
	var err error
	erc1271, err = abi.JSON(strings.NewReader(erc1271ABI))
	if err != nil {
		panic(err)
	}
	addressT, _ := abi.NewType("address", "", nil)
	bytesT, _ := abi.NewType("bytes", "", nil)
	erc6492Envelope = abi.Arguments{{Type: addressT}, {Type: bytesT}, {Type: bytesT}}
}

// EIP1271Verifier asks the account contract whether the signature is valid.
type EIP1271Verifier struct {
	Callers CallerProvider
}

func (v *EIP1271Verifier) Verify(ctx context.Context, account namespace.Account, message string, signature CacaoSignature) error {
	sig, err := hexutil.Decode(signature.S)
	if err != nil {
		return errors.Wrap(ErrSignatureVerificationFailed, "malformed eip1271 signature")
	}
	caller, err := v.Callers.Caller(ctx, account.Blockchain.String())
	if err != nil {
		return err
	}
	return isValidSignature(ctx, caller, common.HexToAddress(account.Address), accounts.TextHash([]byte(message)), sig)
}

func isValidSignature(ctx context.Context, caller ContractCaller, addr common.Address, hash, sig []byte) error {
	var digest [32]byte
	copy(digest[:], hash)
	data, err := erc1271.Pack("isValidSignature", digest, sig)
	if err != nil {
		return errors.Wrap(err, "pack isValidSignature")
	}
	out, err := caller.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: data}, nil)
	if err != nil {
		return errors.Wrap(err, "call isValidSignature")
	}
	if len(out) < 4 || !bytes.Equal(out[:4], erc1271Magic) {
		return errors.Wrap(ErrSignatureVerificationFailed, "contract rejected signature")
	}
	return nil
}

// EIP6492Verifier handles signatures of possibly undeployed smart accounts.
// Deployed accounts are checked through ERC-1271 with the unwrapped
// signature, plain EOAs by recovery.
type EIP6492Verifier struct {
	Callers CallerProvider
}

func (v *EIP6492Verifier) Verify(ctx context.Context, account namespace.Account, message string, signature CacaoSignature) error {
	sig, err := hexutil.Decode(signature.S)
	if err != nil {
		return errors.Wrap(ErrSignatureVerificationFailed, "malformed eip6492 signature")
	}
	wrapped := len(sig) > len(erc6492Suffix) && bytes.HasSuffix(sig, erc6492Suffix)
	if wrapped {
		values, err := erc6492Envelope.Unpack(sig[:len(sig)-len(erc6492Suffix)])
		if err != nil || len(values) != 3 {
			return errors.Wrap(ErrSignatureVerificationFailed, "malformed eip6492 envelope")
		}
		inner, ok := values[2].([]byte)
		if !ok {
			return errors.Wrap(ErrSignatureVerificationFailed, "malformed eip6492 envelope")
		}
		sig = inner
	}
	caller, err := v.Callers.Caller(ctx, account.Blockchain.String())
	if err != nil {
		return err
	}
	addr := common.HexToAddress(account.Address)
	code, err := caller.CodeAt(ctx, addr, nil)
	if err != nil {
		return errors.Wrap(err, "load account code")
	}
	hash := accounts.TextHash([]byte(message))
	if len(code) > 0 {
		return isValidSignature(ctx, caller, addr, hash, sig)
	}
	if wrapped {
		// TODO: verify counterfactual accounts with the off-chain validator deployless call
		return errors.Wrap(ErrSignatureVerificationFailed, "counterfactual account is not deployed")
	}
	if len(sig) != crypto.SignatureLength || !recoversTo(hash, sig, account.Address) {
		return errors.Wrap(ErrSignatureVerificationFailed, "eip6492 signer mismatch")
	}
	return nil
}
