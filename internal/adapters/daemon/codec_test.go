package daemon

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.trai.ch/xnail/internal/core/domain"
	"go.trai.ch/xnail/internal/core/ports"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestCodec_TransformHeader(t *testing.T) {
	in := &transformRequest{
		Header: &transformHeader{
			Program:     "sheet.go",
			Input:       "-",
			HasInput:    true,
			SystemID:    "urn:doc",
			HasSystemID: true,
			Cwd:         "/work",
			Params: []*parameter{
				{Name: "a", Value: "1"},
				{Name: "a", Value: "2"},
			},
		},
		StdinEOF: true,
	}

	data, err := codec{}.Marshal(in)
	require.NoError(t, err)

	var out transformRequest
	require.NoError(t, codec{}.Unmarshal(data, &out))
	assert.Equal(t, in, &out)
}

func TestCodec_NegativeExitStatus(t *testing.T) {
	data, err := codec{}.Marshal(&transformResponse{ExitStatus: -1, Done: true})
	require.NoError(t, err)

	var out transformResponse
	require.NoError(t, codec{}.Unmarshal(data, &out))
	assert.Equal(t, int64(-1), out.ExitStatus)
	assert.True(t, out.Done)
}

func TestCodec_SkipsUnknownFields(t *testing.T) {
	b := protowire.AppendTag(nil, 42, protowire.BytesType)
	b = protowire.AppendString(b, "from a newer client")
	b = appendBool(b, 1, true)

	var out shutdownResponse
	require.NoError(t, codec{}.Unmarshal(b, &out))
	assert.True(t, out.Success)
}

func TestCodec_Malformed(t *testing.T) {
	b := protowire.AppendTag(nil, 1, protowire.BytesType)
	b = protowire.AppendVarint(b, 100)

	var out transformResponse
	assert.Error(t, codec{}.Unmarshal(b, &out))
}

func TestCodec_RejectsForeignTypes(t *testing.T) {
	_, err := codec{}.Marshal("plain string")
	require.ErrorIs(t, err, domain.ErrProtocolViolation)

	err = codec{}.Unmarshal(nil, new(int))
	require.ErrorIs(t, err, domain.ErrProtocolViolation)
}

func TestServeArgs(t *testing.T) {
	addr := domain.Address{Network: "tcp", Addr: "127.0.0.1:7000"}
	args := serveArgs(addr, ports.SpawnOptions{
		IdleTimeout: 3 * time.Hour,
		ConfigPath:  "/etc/xnail.yaml",
		LogLevel:    "debug",
	})
	assert.Equal(t, []string{
		"serve",
		"--address", "127.0.0.1:7000",
		"--address-type", "network",
		"--idle-timeout", "3h0m0s",
		"--config", "/etc/xnail.yaml",
		"--log-level", "debug",
	}, args)
}
