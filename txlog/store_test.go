package txlog

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LoveWonYoung/udsengine/uds"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "tx.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testNAI() uds.NetAddrInfo {
	return uds.NetAddrInfo{SA: 0xF1, TA: 0x01, TAType: uds.Physical, Protocol: uds.ProtocolISO15765_2_11B}
}

func TestStore_RecordAndGet(t *testing.T) {
	s := openStore(t)
	req, err := uds.NewReadDataByIdentifier(testNAI(), []uint16{uds.DIDVIN})
	require.NoError(t, err)
	conf := req.Clone()
	conf.Type = uds.MessageConfirm
	resp := &uds.Message{NAI: testNAI().Peer(), Type: uds.MessageConfirm, Data: []byte{0x62, 0xF1, 0x90, 'V'}}

	rec := &Record{
		Time:      time.Now().Round(0),
		Duration:  12 * time.Millisecond,
		Request:   req,
		Confirm:   conf,
		Responses: []*uds.Message{resp},
	}
	require.NoError(t, s.Record(rec))
	assert.NotEqual(t, uuid.Nil, rec.ID)

	got, err := s.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.True(t, rec.Time.Equal(got.Time))
	assert.Equal(t, rec.Duration, got.Duration)
	assert.Equal(t, req.Data, got.Request.Data)
	assert.Equal(t, req.NAI, got.Request.NAI)
	assert.Equal(t, uds.MessageConfirm, got.Confirm.Type)
	require.Len(t, got.Responses, 1)
	assert.Equal(t, resp.Data, got.Responses[0].Data)
	assert.Equal(t, uds.StatusOK, got.Status)
}

func TestStore_GetNotFound(t *testing.T) {
	s := openStore(t)
	_, err := s.Get(uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ListOrder(t *testing.T) {
	s := openStore(t)
	base := time.Now()
	for i := 0; i < 5; i++ {
		req, err := uds.NewTesterPresent(testNAI())
		require.NoError(t, err)
		require.NoError(t, s.Record(&Record{
			Time:    base.Add(time.Duration(i) * time.Second),
			Request: req,
			Status:  uds.StatusTimeout,
			Error:   "超时",
		}))
	}

	tests := []struct {
		name  string
		limit int
		want  int
	}{
		{"全部", 0, 5},
		{"最近两条", 2, 2},
		{"超过总数", 10, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs, err := s.List(tt.limit)
			require.NoError(t, err)
			require.Len(t, recs, tt.want)
			for i := 1; i < len(recs); i++ {
				assert.True(t, recs[i-1].Time.Before(recs[i].Time))
			}
			assert.Equal(t, uds.StatusTimeout, recs[0].Status)
			assert.Equal(t, "超时", recs[0].Error)
		})
	}

	recs, err := s.List(2)
	require.NoError(t, err)
	assert.True(t, recs[1].Time.Equal(base.Add(4*time.Second)))

	since, err := s.Since(base.Add(3 * time.Second))
	require.NoError(t, err)
	assert.Len(t, since, 2)
}
