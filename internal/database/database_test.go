package database

import (
	"go/parser"
	"go/token"
	"io/fs"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"moff.io/walletconnect-sign/pkg/errors"
)

type deletion struct {
	Topic  string
	Reason struct {
		Code    int
		Message string
	}
}

func TestNewLifecycleEventFlattensStruct(t *testing.T) {
	d := deletion{Topic: "abc"}
	d.Reason.Code = 6000
	d.Reason.Message = "User disconnected."
	at := time.Unix(1700000000, 0)

	e := NewLifecycleEvent("abc", LifecycleEventTypeSessionDeleted, &d, at)
	assert.Equal(t, "abc", e.Topic)
	assert.Equal(t, LifecycleEventTypeSessionDeleted, e.EventType)
	assert.Equal(t, at, e.EventTime)
	assert.Equal(t, "abc", e.Event["Topic"])
	reason, ok := e.Event["Reason"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, 6000, reason["Code"])
}

func TestJSONBMapRoundTrip(t *testing.T) {
	v, err := JSONBMap{"a": "b"}.Value()
	require.NoError(t, err)
	var m JSONBMap
	require.NoError(t, m.Scan([]byte(v.(string))))
	assert.Equal(t, JSONBMap{"a": "b"}, m)
	require.NoError(t, m.Scan(`{"c":1}`))
	assert.Equal(t, float64(1), m["c"])
	assert.Error(t, m.Scan(42))
}

func TestIsDuplicateKeyErr(t *testing.T) {
	assert.False(t, IsDuplicateKeyErr(nil))
	assert.True(t, IsDuplicateKeyErr(errors.New(`ERROR: duplicate key value violates unique constraint "kv_records_pkey"`)))
	assert.False(t, IsDuplicateKeyErr(errors.New("connection refused")))
}

func TestInitUnreachable(t *testing.T) {
	_, err := Init("host=127.0.0.1 port=1 user=wc password=wc dbname=wc sslmode=disable connect_timeout=1")
	assert.Error(t, err)
}

// storage builds on this package and config builds on storage, so database
// must not import either.
func TestNoUpwardImports(t *testing.T) {
	pkgs, err := parser.ParseDir(token.NewFileSet(), ".", func(fi fs.FileInfo) bool {
		return !strings.HasSuffix(fi.Name(), "_test.go")
	}, parser.ImportsOnly)
	require.NoError(t, err)
	for _, pkg := range pkgs {
		for name, file := range pkg.Files {
			for _, imp := range file.Imports {
				path := strings.Trim(imp.Path.Value, `"`)
				assert.False(t, strings.HasPrefix(path, "moff.io/walletconnect-sign/internal/"),
					"%s imports %s", name, path)
			}
		}
	}
}
