package auth

import (
	"context"
	"crypto/ed25519"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"moff.io/walletconnect-sign/internal/namespace"
	"moff.io/walletconnect-sign/pkg/errors"
)

func validParams(ttl time.Duration) RequestParams {
	return RequestParams{
		Chains: []string{"eip155:1"},
		Domain: "app.example.com",
		Nonce:  "32891756",
		URI:    "https://app.example.com/login",
		TTL:    ttl,
	}
}

func TestNewRequestParamsTTL(t *testing.T) {
	tests := []struct {
		ttl   time.Duration
		valid bool
	}{
		{299 * time.Second, false},
		{300 * time.Second, true},
		{604800 * time.Second, true},
		{604801 * time.Second, false},
		{0, true},
	}
	for _, tt := range tests {
		p, err := NewRequestParams(validParams(tt.ttl))
		if tt.valid {
			assert.NoError(t, err, tt.ttl)
			assert.NotZero(t, p.TTL)
		} else {
			assert.True(t, errors.Is(err, ErrInvalidTTL), tt.ttl)
		}
	}
}

func TestNewRequestParamsRequiresFields(t *testing.T) {
	p := validParams(0)
	p.Chains = []string{"eip155"}
	_, err := NewRequestParams(p)
	assert.True(t, errors.Is(err, ErrInvalidParams))

	p = validParams(0)
	p.Nonce = ""
	_, err = NewRequestParams(p)
	assert.True(t, errors.Is(err, ErrInvalidParams))
}

const issuer = "did:pkh:eip155:1:0xab16a96D359eC26a11e2C2b3d8f8B8942d5Bfcdb"

func TestFormatMessageGolden(t *testing.T) {
	payload := Payload{
		Type: PayloadType, Chains: []string{"eip155:1"}, Domain: "d", Aud: "https://d",
		Version: "1", Nonce: "n", Iat: "t", Statement: "X",
	}
	msg, err := FormatMessage(payload, issuer)
	require.NoError(t, err)
	assert.Equal(t, "d wants you to sign in with your Ethereum account:\n"+
		"0xab16a96D359eC26a11e2C2b3d8f8B8942d5Bfcdb\n"+
		"\n"+
		"X\n"+
		"\n"+
		"URI: https://d\n"+
		"Version: 1\n"+
		"Chain ID: 1\n"+
		"Nonce: n\n"+
		"Issued At: t", msg)
}

func TestFormatMessageOptionalLines(t *testing.T) {
	payload := Payload{
		Domain: "d", Aud: "https://d", Version: "1", Nonce: "n", Iat: "t",
		Exp: "e", Nbf: "b", RequestID: "r", Resources: []string{"ipfs://a", "https://b"},
	}
	msg, err := FormatMessage(payload, "did:pkh:solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp:7S3P4HxJpyyigGzodYwHtCxZyUQe9JiBMHyRWXArAaKv")
	require.NoError(t, err)
	assert.Equal(t, "d wants you to sign in with your Solana account:\n"+
		"7S3P4HxJpyyigGzodYwHtCxZyUQe9JiBMHyRWXArAaKv\n"+
		"\n"+
		"\n"+
		"URI: https://d\n"+
		"Version: 1\n"+
		"Chain ID: 5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp\n"+
		"Nonce: n\n"+
		"Issued At: t\n"+
		"Expiration Time: e\n"+
		"Not Before: b\n"+
		"Request ID: r\n"+
		"Resources:\n"+
		"- ipfs://a\n"+
		"- https://b", msg)

	_, err = FormatMessage(payload, "did:key:z6Mk")
	assert.True(t, errors.Is(err, ErrMalformedResponseParams))
}

func TestRecapStatement(t *testing.T) {
	recap, err := BuildRecap("eip155", []string{"personal_sign", "eth_sign"})
	require.NoError(t, err)
	assert.Equal(t, []string{"eth_sign", "personal_sign"}, RecapMethods([]string{recap, "https://x"}))

	payload := Payload{Domain: "d", Aud: "https://d", Version: "1", Nonce: "n", Iat: "t", Statement: "Hi.", Resources: []string{recap}}
	msg, err := FormatMessage(payload, issuer)
	require.NoError(t, err)
	assert.Contains(t, msg, "\n\nHi. I further authorize the stated URI to perform the following actions on my behalf: "+
		"(1) 'request': 'eth_sign', 'personal_sign' for 'eip155'.\n\nURI:")
}

func TestBuildPayload(t *testing.T) {
	p := validParams(0)
	p.Methods = []string{"personal_sign"}
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("x", 3600))
	payload, err := BuildPayload(p, now)
	require.NoError(t, err)
	assert.Equal(t, PayloadType, payload.Type)
	assert.Equal(t, "2024-05-01T11:00:00Z", payload.Iat)
	assert.Equal(t, p.URI, payload.Aud)
	require.Len(t, payload.Resources, 1)
	assert.Equal(t, []string{"personal_sign"}, RecapMethods(payload.Resources))
	assert.Empty(t, payload.Exp)

	p.TTL = time.Hour
	payload, err = BuildPayload(p, now)
	require.NoError(t, err)
	assert.Equal(t, "2024-05-01T12:00:00Z", payload.Exp)

	p.Exp = "2024-05-02T00:00:00Z"
	payload, err = BuildPayload(p, now)
	require.NoError(t, err)
	assert.Equal(t, "2024-05-02T00:00:00Z", payload.Exp)
}

func TestParseDIDPKH(t *testing.T) {
	acc, err := ParseDIDPKH(issuer)
	require.NoError(t, err)
	assert.Equal(t, "eip155:1", acc.Blockchain.String())
	for _, bad := range []string{"did:key:abc", "did:pkh:eip155:1", "did:pkh:"} {
		_, err := ParseDIDPKH(bad)
		assert.True(t, errors.Is(err, ErrMalformedResponseParams), bad)
	}
}

func signedEIP191(t *testing.T) (Cacao, namespace.Account) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	account := namespace.MustParseAccount("eip155:1:" + crypto.PubkeyToAddress(key.PublicKey).Hex())
	payload, err := BuildPayload(validParams(0), time.Now())
	require.NoError(t, err)
	msg, err := FormatMessage(payload, IssuerDID(account))
	require.NoError(t, err)
	sig, err := crypto.Sign(accounts.TextHash([]byte(msg)), key)
	require.NoError(t, err)
	sig[crypto.RecoveryIDOffset] += 27
	return BuildAuthObject(payload, account, CacaoSignature{T: SignatureEIP191, S: hexutil.Encode(sig)}), account
}

func TestRecoverAndVerifyEIP191(t *testing.T) {
	ctx := context.Background()
	engine := NewEngine()
	cacao, _ := signedEIP191(t)
	require.NoError(t, engine.RecoverAndVerifySignature(ctx, cacao))

	tampered := cacao
	tampered.P.Nonce = "other"
	assert.True(t, errors.Is(engine.RecoverAndVerifySignature(ctx, tampered), ErrSignatureVerificationFailed))

	wrongType := cacao
	wrongType.S.T = SignatureEd25519
	assert.True(t, errors.Is(engine.RecoverAndVerifySignature(ctx, wrongType), ErrUnsupportedSignatureType))

	smart := cacao
	smart.S.T = SignatureEIP1271
	assert.True(t, errors.Is(engine.RecoverAndVerifySignature(ctx, smart), ErrUnsupportedSignatureType), "no contract caller configured")
}

func TestRecoverAndVerifyEd25519(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	account := namespace.MustParseAccount("solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp:" + base58.Encode(pub))
	p := validParams(0)
	p.Chains = []string{"solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp"}
	payload, err := BuildPayload(p, time.Now())
	require.NoError(t, err)
	msg, err := FormatMessage(payload, IssuerDID(account))
	require.NoError(t, err)
	sig := ed25519.Sign(priv, []byte(msg))

	cacao := BuildAuthObject(payload, account, CacaoSignature{T: SignatureEd25519, S: base58.Encode(sig)})
	require.NoError(t, NewEngine().RecoverAndVerifySignature(context.Background(), cacao))

	sig[0] ^= 0xff
	cacao.S.S = base58.Encode(sig)
	assert.True(t, errors.Is(NewEngine().RecoverAndVerifySignature(context.Background(), cacao), ErrSignatureVerificationFailed))
}

func TestBIP122DelegatedVerifier(t *testing.T) {
	account := namespace.MustParseAccount("bip122:000000000019d6689c085ae165831e93:bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq")
	payload, _ := BuildPayload(validParams(0), time.Now())
	cacao := BuildAuthObject(payload, account, CacaoSignature{T: SignatureBIP322Simple, S: "AkcwRAIg"})

	err := NewEngine().RecoverAndVerifySignature(context.Background(), cacao)
	assert.True(t, errors.Is(err, ErrUnsupportedSignatureType))

	var got string
	engine := NewEngine(WithVerifier(SignatureBIP322Simple, VerifierFunc(
		func(_ context.Context, acc namespace.Account, message string, _ CacaoSignature) error {
			got = message
			return nil
		})))
	require.NoError(t, engine.RecoverAndVerifySignature(context.Background(), cacao))
	assert.Contains(t, got, "wants you to sign in with your Bitcoin account:\nbc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq\n")
}

type fakeCaller struct {
	code   []byte
	result []byte
	calls  []ethereum.CallMsg
}

func (f *fakeCaller) CodeAt(context.Context, common.Address, *big.Int) ([]byte, error) {
	return f.code, nil
}

func (f *fakeCaller) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.calls = append(f.calls, call)
	return f.result, nil
}

type staticCallers struct{ caller ContractCaller }

func (s staticCallers) Caller(context.Context, string) (ContractCaller, error) {
	return s.caller, nil
}

func TestEIP1271(t *testing.T) {
	ctx := context.Background()
	cacao, account := signedEIP191(t)
	cacao.S.T = SignatureEIP1271

	valid := &fakeCaller{result: common.RightPadBytes(erc1271Magic, 32)}
	require.NoError(t, NewEngine(WithContractCaller(staticCallers{valid})).RecoverAndVerifySignature(ctx, cacao))
	require.Len(t, valid.calls, 1)
	assert.Equal(t, common.HexToAddress(account.Address), *valid.calls[0].To)
	assert.Equal(t, erc1271Magic, valid.calls[0].Data[:4])

	invalid := &fakeCaller{result: make([]byte, 32)}
	err := NewEngine(WithContractCaller(staticCallers{invalid})).RecoverAndVerifySignature(ctx, cacao)
	assert.True(t, errors.Is(err, ErrSignatureVerificationFailed))
}

func TestEIP6492(t *testing.T) {
	ctx := context.Background()
	cacao, _ := signedEIP191(t)
	cacao.S.T = SignatureEIP6492

	eoa := &fakeCaller{}
	require.NoError(t, NewEngine(WithContractCaller(staticCallers{eoa})).RecoverAndVerifySignature(ctx, cacao))
	assert.Empty(t, eoa.calls)

	deployed := &fakeCaller{code: []byte{0x60}, result: common.RightPadBytes(erc1271Magic, 32)}
	inner, _ := hexutil.Decode(cacao.S.S)
	wrapped, err := erc6492Envelope.Pack(common.HexToAddress("0x1"), []byte{0x01}, inner)
	require.NoError(t, err)
	cacao.S.S = hexutil.Encode(append(wrapped, erc6492Suffix...))
	require.NoError(t, NewEngine(WithContractCaller(staticCallers{deployed})).RecoverAndVerifySignature(ctx, cacao))
	require.Len(t, deployed.calls, 1)

	err = NewEngine(WithContractCaller(staticCallers{&fakeCaller{}})).RecoverAndVerifySignature(ctx, cacao)
	assert.True(t, errors.Is(err, ErrSignatureVerificationFailed), "undeployed counterfactual account")
}

func TestSignatureTypeAllowList(t *testing.T) {
	assert.True(t, IsSignatureTypeAllowed("eip155", SignatureEIP6492))
	assert.True(t, IsSignatureTypeAllowed("bip122", SignatureECDSA))
	assert.True(t, IsSignatureTypeAllowed("solana", SignatureEd25519))
	assert.False(t, IsSignatureTypeAllowed("solana", SignatureEIP191))
	assert.False(t, IsSignatureTypeAllowed("cosmos", SignatureEd25519))
}
