package sdblog_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/sdbio/sdb/sdblog"
)

func TestWithComponentAddsComponentField(t *testing.T) {
	var buf bytes.Buffer
	sdblog.Init(sdblog.Config{Level: sdblog.InfoLevel, JSONOutput: true, Output: &buf})

	sdblog.WithComponent("pager").Info().Msg("opened")

	var fields map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &fields))
	require.Equal(t, "pager", fields["component"])
	require.Equal(t, "opened", fields["message"])
}

func TestWithTxnIDAndCollectionAddFields(t *testing.T) {
	var buf bytes.Buffer
	sdblog.Init(sdblog.Config{Level: sdblog.DebugLevel, JSONOutput: true, Output: &buf})

	txnID := uuid.MustParse("00000000-0000-0000-0000-00000000002a")
	sdblog.WithTxnID(txnID).Debug().Msg("begin")
	sdblog.WithCollection("users").Warn().Msg("slow scan")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &first))
	require.Equal(t, txnID.String(), first["txn_id"])

	var second map[string]any
	require.NoError(t, json.Unmarshal(lines[1], &second))
	require.Equal(t, "users", second["collection"])
}

func TestInitDefaultsToInfoLevelOnUnknown(t *testing.T) {
	var buf bytes.Buffer
	sdblog.Init(sdblog.Config{Level: "bogus", JSONOutput: true, Output: &buf})

	sdblog.Debug("should be suppressed")
	require.Empty(t, buf.String())

	sdblog.Info("should appear")
	require.Contains(t, buf.String(), "should appear")
}
