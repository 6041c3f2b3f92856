package wire

import (
	"bytes"
	"net/netip"
	"testing"
)

func addr(s string) netip.AddrPort {
	return netip.MustParseAddrPort(s)
}

func roundTrip(t *testing.T, m *Message) *Message {
	t.Helper()

	var buf bytes.Buffer
	if err := WriteMessage(&buf, m); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	got, err := ReadMessage(&buf)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	return got
}

func TestJoinParentRoundTrip(t *testing.T) {
	sender := addr("127.0.0.1:7001")
	got := roundTrip(t, MessageJoinParent(sender))

	gotSender, ok := got.ParseJoinParent()
	if !ok {
		t.Fatal("ParseJoinParent returned ok=false")
	}
	if gotSender != sender {
		t.Fatalf("sender = %v, want %v", gotSender, sender)
	}
}

func TestJoinParentResponseRoundTrip(t *testing.T) {
	peers := []netip.AddrPort{addr("127.0.0.1:7001"), addr("127.0.0.1:7002")}
	got := roundTrip(t, MessageJoinParentResponse(peers))

	gotPeers, ok := got.ParseJoinParentResponse()
	if !ok {
		t.Fatal("ParseJoinParentResponse returned ok=false")
	}
	if len(gotPeers) != 2 || gotPeers[0] != peers[0] || gotPeers[1] != peers[1] {
		t.Fatalf("peers = %v, want %v", gotPeers, peers)
	}
}

func TestJoinOtherResponseRoundTrip(t *testing.T) {
	got := roundTrip(t, MessageJoinOtherResponse(3, 1000))

	solved, validations, ok := got.ParseJoinOtherResponse()
	if !ok {
		t.Fatal("ParseJoinOtherResponse returned ok=false")
	}
	if solved != 3 || validations != 1000 {
		t.Fatalf("solved=%d validations=%d, want 3 1000", solved, validations)
	}
}

func TestKeepAliveRoundTrip(t *testing.T) {
	got := roundTrip(t, MessageKeepAlive())
	if got.Tag != TagKeepAlive {
		t.Fatalf("tag = %v, want KeepAlive", got.Tag)
	}
}

func TestStoreSudokuRoundTrip(t *testing.T) {
	var g [9][9]int
	g[0][0] = 5
	origin := addr("127.0.0.1:7000")

	got := roundTrip(t, MessageStoreSudoku("abc-123", g, origin))

	id, gotGrid, gotOrigin, ok := got.ParseStoreSudoku()
	if !ok {
		t.Fatal("ParseStoreSudoku returned ok=false")
	}
	if id != "abc-123" || gotGrid != g || gotOrigin != origin {
		t.Fatalf("got (%s, %v, %v), want (%s, %v, %v)", id, gotGrid, gotOrigin, "abc-123", g, origin)
	}
}

func TestWorkRequestRoundTrip(t *testing.T) {
	var g [9][9]int
	var jobs [9]JobWire
	assignee := addr("127.0.0.1:7002")
	jobs[3] = JobWire{Status: 1, Assignee: &assignee}

	got := roundTrip(t, MessageWorkRequest("id-1", g, jobs, 3))

	id, _, gotJobs, square, ok := got.ParseWorkRequest()
	if !ok {
		t.Fatal("ParseWorkRequest returned ok=false")
	}
	if id != "id-1" || square != 3 {
		t.Fatalf("id=%s square=%d, want id-1 3", id, square)
	}
	if gotJobs[3].Status != 1 || gotJobs[3].Assignee == nil || *gotJobs[3].Assignee != assignee {
		t.Fatalf("job[3] = %+v, want status=1 assignee=%v", gotJobs[3], assignee)
	}
	for i, j := range gotJobs {
		if i == 3 {
			continue
		}
		if j.Assignee != nil {
			t.Fatalf("job[%d] has unexpected assignee %v", i, *j.Assignee)
		}
	}
}

func TestWorkAckRoundTrip(t *testing.T) {
	got := roundTrip(t, MessageWorkAck("id-2", 7))

	id, square, ok := got.ParseWorkAck()
	if !ok {
		t.Fatal("ParseWorkAck returned ok=false")
	}
	if id != "id-2" || square != 7 {
		t.Fatalf("id=%s square=%d, want id-2 7", id, square)
	}
}

func TestWorkCompleteRoundTrip(t *testing.T) {
	var g [9][9]int
	g[8][8] = 9

	got := roundTrip(t, MessageWorkComplete("id-3", g, 8, 42))

	id, gotGrid, square, validations, ok := got.ParseWorkComplete()
	if !ok {
		t.Fatal("ParseWorkComplete returned ok=false")
	}
	if id != "id-3" || gotGrid != g || square != 8 || validations != 42 {
		t.Fatalf("got (%s, %v, %d, %d)", id, gotGrid, square, validations)
	}
}

func TestSudokuSolvedRoundTrip(t *testing.T) {
	var g [9][9]int
	origin := addr("127.0.0.1:7000")

	got := roundTrip(t, MessageSudokuSolved("id-4", g, origin))

	id, gotGrid, gotOrigin, ok := got.ParseSudokuSolved()
	if !ok {
		t.Fatal("ParseSudokuSolved returned ok=false")
	}
	if id != "id-4" || gotGrid != g || gotOrigin != origin {
		t.Fatalf("got (%s, %v, %v)", id, gotGrid, gotOrigin)
	}
}

func TestParseRejectsWrongTag(t *testing.T) {
	m := MessageKeepAlive()
	if _, _, ok := m.ParseWorkAck(); ok {
		t.Fatal("expected ParseWorkAck to reject a KeepAlive message")
	}
}

func TestReadMessageZeroLengthIsConnectionClose(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0, 0})

	_, err := ReadMessage(buf)
	if err != ErrConnectionClose {
		t.Fatalf("err = %v, want ErrConnectionClose", err)
	}
}

func TestReadMessageMalformedPayloadIsFatal(t *testing.T) {
	var buf bytes.Buffer
	garbage := []byte("{not json")
	hdr := []byte{0, byte(len(garbage))}
	buf.Write(hdr)
	buf.Write(garbage)

	_, err := ReadMessage(&buf)
	if err == nil {
		t.Fatal("expected malformed payload to produce an error")
	}
}
