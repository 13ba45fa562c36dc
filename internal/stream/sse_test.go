package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecoderSingleRecord(t *testing.T) {
	d := &decoder{}

	recs := d.feed([]byte("event: chat.message\ndata: {\"room_id\":\"r1\"}\n\n"))
	require.Len(t, recs, 1)
	assert.Equal(t, "chat.message", recs[0].event)
	assert.Equal(t, `{"room_id":"r1"}`, recs[0].data)
}

func TestDecoderChunkedAcrossFeeds(t *testing.T) {
	d := &decoder{}

	assert.Empty(t, d.feed([]byte("event: heart")))
	assert.Empty(t, d.feed([]byte("beat\n")))

	recs := d.feed([]byte("\nevent: connected\n\n"))
	require.Len(t, recs, 2)
	assert.Equal(t, "heartbeat", recs[0].event)
	assert.Equal(t, "connected", recs[1].event)
}

func TestDecoderNormalisesCRLF(t *testing.T) {
	d := &decoder{}

	recs := d.feed([]byte("event: heartbeat\r\n\r\n"))
	require.Len(t, recs, 1)
	assert.Equal(t, "heartbeat", recs[0].event)
}

func TestDecoderJoinsMultipleDataLines(t *testing.T) {
	d := &decoder{}

	recs := d.feed([]byte("event: chat.message\ndata: line one\ndata: line two\n\n"))
	require.Len(t, recs, 1)
	assert.Equal(t, "line one\nline two", recs[0].data)
}

func TestDecoderDropsRecordWithoutEvent(t *testing.T) {
	d := &decoder{}

	recs := d.feed([]byte("data: orphan payload\n\nevent: heartbeat\n\n"))
	require.Len(t, recs, 1)
	assert.Equal(t, "heartbeat", recs[0].event)
}

func TestDecoderFlushParsesTrailingPartial(t *testing.T) {
	d := &decoder{}

	assert.Empty(t, d.feed([]byte("event: chat.message\ndata: tail")))

	rec, ok := d.flush()
	require.True(t, ok)
	assert.Equal(t, "chat.message", rec.event)
	assert.Equal(t, "tail", rec.data)

	_, ok = d.flush()
	assert.False(t, ok, "flush consumes the buffer")
}
