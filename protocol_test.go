package sciclops

import (
	"errors"
	"strings"
	"testing"
)

func TestCommandEncoding(t *testing.T) {
	t.Run("bare verb", func(t *testing.T) {
		got := string(cmdHome().Encode())
		if got != "HOME\r\n" {
			t.Errorf("expected HOME frame, got %q", got)
		}
	})

	t.Run("verb with arguments", func(t *testing.T) {
		got := string(cmdSetSpeed(15).Encode())
		if got != "SETSPEED 15\r\n" {
			t.Errorf("expected SETSPEED frame, got %q", got)
		}
	})

	t.Run("jog formats whole distances without decimals", func(t *testing.T) {
		got := string(cmdJog(AxisZ, -380).Encode())
		if got != "JOG Z,-380\r\n" {
			t.Errorf("unexpected jog frame %q", got)
		}
	})

	t.Run("point staging", func(t *testing.T) {
		pt := Point{Z: 23.5188, R: 133.5, Y: 171.9895, P: 8.6648}
		got := string(cmdLoadPoint(pt).Encode())
		want := "LOADPOINT R:133.5000, Z:23.5188, P:8.6648, Y:171.9895\r\n"
		if got != want {
			t.Errorf("expected %q, got %q", want, got)
		}
		if got := string(cmdMove(pt).Encode()); got != "MOVE R:133.5000\r\n" {
			t.Errorf("unexpected move frame %q", got)
		}
	})

	t.Run("limp encodes boolean", func(t *testing.T) {
		if got := cmdLimp(true).text(); got != "LIMP TRUE" {
			t.Errorf("expected LIMP TRUE, got %q", got)
		}
		if got := cmdLimp(false).text(); got != "LIMP FALSE" {
			t.Errorf("expected LIMP FALSE, got %q", got)
		}
	})

	t.Run("sequence numbers increase", func(t *testing.T) {
		a := cmdOpen()
		b := cmdClose()
		if b.Seq <= a.Seq {
			t.Errorf("expected increasing sequence numbers, got %d then %d", a.Seq, b.Seq)
		}
	})
}

func TestResponseDecoder(t *testing.T) {
	t.Run("echo then status", func(t *testing.T) {
		var dec responseDecoder
		dec.reset(cmdOpen())
		dec.feed([]byte("OPEN\r\n0000 SUCCESS\r\n"))
		resp, err := dec.next()
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if !resp.OK() || resp.Message != "SUCCESS" {
			t.Errorf("unexpected response %+v", resp)
		}
	})

	t.Run("status split across reads", func(t *testing.T) {
		var dec responseDecoder
		dec.reset(cmdGetPos())
		for _, chunk := range []string{"GETP", "OS\r\n0000 Z:1.0, R:2.0", ", Y:3.0, P:4.0\r\n"} {
			if _, err := dec.next(); !errors.Is(err, errNeedMore) && chunk != "" {
				// Preceding chunks must not produce a frame early.
				t.Fatalf("expected errNeedMore before full frame, got %v", err)
			}
			dec.feed([]byte(chunk))
		}
		resp, err := dec.next()
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		pt, err := parsePositions(resp.Message)
		if err != nil {
			t.Fatalf("parse failed: %v", err)
		}
		if pt.Z != 1.0 || pt.R != 2.0 || pt.Y != 3.0 || pt.P != 4.0 {
			t.Errorf("unexpected point %+v", pt)
		}
	})

	t.Run("device error code", func(t *testing.T) {
		var dec responseDecoder
		dec.reset(cmdClose())
		dec.feed([]byte("CLOSE\r\n1400 Motor stalled\r\n"))
		resp, err := dec.next()
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if resp.OK() {
			t.Error("error code decoded as success")
		}
		if resp.Code != "1400" || resp.Message != "Motor stalled" {
			t.Errorf("unexpected response %+v", resp)
		}
	})

	t.Run("wrong echo is malformed", func(t *testing.T) {
		var dec responseDecoder
		dec.reset(cmdOpen())
		dec.feed([]byte("CLOSE\r\n"))
		_, err := dec.next()
		var malformed *MalformedResponseError
		if !errors.As(err, &malformed) {
			t.Fatalf("expected MalformedResponseError, got %v", err)
		}
	})

	t.Run("junk status line is malformed", func(t *testing.T) {
		var dec responseDecoder
		dec.reset(cmdOpen())
		dec.feed([]byte("OPEN\r\n@@#!\r\n"))
		_, err := dec.next()
		var malformed *MalformedResponseError
		if !errors.As(err, &malformed) {
			t.Fatalf("expected MalformedResponseError, got %v", err)
		}
	})

	t.Run("blank lines are skipped", func(t *testing.T) {
		var dec responseDecoder
		dec.reset(cmdOpen())
		dec.feed([]byte("\r\nOPEN\r\n\r\n0000 SUCCESS\r\n"))
		resp, err := dec.next()
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if !resp.OK() {
			t.Errorf("unexpected response %+v", resp)
		}
	})

	t.Run("reset drops stale bytes", func(t *testing.T) {
		var dec responseDecoder
		dec.reset(cmdOpen())
		dec.feed([]byte("OPEN\r\n0000 SUC"))
		dec.reset(cmdClose())
		dec.feed([]byte("CLOSE\r\n0000 SUCCESS\r\n"))
		resp, err := dec.next()
		if err != nil {
			t.Fatalf("decode failed after reset: %v", err)
		}
		if resp.Message != "SUCCESS" {
			t.Errorf("unexpected response %+v", resp)
		}
	})
}

func TestParsePositions(t *testing.T) {
	t.Run("device format", func(t *testing.T) {
		pt, err := parsePositions("Z:23.5188, R:109.2741, Y:32.7484, P:98.2955")
		if err != nil {
			t.Fatalf("parse failed: %v", err)
		}
		if pt.Z != 23.5188 || pt.R != 109.2741 {
			t.Errorf("unexpected point %+v", pt)
		}
	})

	t.Run("negative coordinates", func(t *testing.T) {
		pt, err := parsePositions("Z:-356.5375, R:0.0, Y:0.0, P:0.0")
		if err != nil {
			t.Fatalf("parse failed: %v", err)
		}
		if pt.Z != -356.5375 {
			t.Errorf("unexpected Z %v", pt.Z)
		}
	})

	t.Run("garbage rejected", func(t *testing.T) {
		if _, err := parsePositions("no coordinates here"); err == nil {
			t.Error("expected parse error")
		}
	})
}

func TestCommandString(t *testing.T) {
	c := cmdSetSpeed(10)
	if !strings.Contains(c.String(), "SETSPEED 10") {
		t.Errorf("String() should include the frame text, got %q", c.String())
	}
}
