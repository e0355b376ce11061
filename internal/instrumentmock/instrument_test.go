package instrumentmock

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"
)

func TestPowerSupplySetAndQuery(t *testing.T) {
	ps := NewPowerSupply()

	ps.handle("VOLT 12.5;")
	ps.handle("CURR:LEV 2;")
	if r := ps.handle("VOLT?"); r.reply != "12.5" {
		t.Errorf("Expected programmed voltage 12.5, got %q", r.reply)
	}
	if r := ps.handle("MEAS:VOLT?"); r.reply != "0" {
		t.Errorf("Expected 0 V measured with output off, got %q", r.reply)
	}

	ps.handle(":OUTP:STAT ON;")
	if r := ps.handle(":OUTP:STAT?"); r.reply != "1" {
		t.Errorf("Expected output on, got %q", r.reply)
	}
	if r := ps.handle("MEAS:CURR?"); r.reply != "1.25" {
		t.Errorf("Expected 1.25 A into the load, got %q", r.reply)
	}
}

func TestPowerSupplyConstantCurrentCrossover(t *testing.T) {
	ps := NewPowerSupply()
	ps.handle("VOLT 30;")
	ps.handle("CURR:LEV 1;")
	ps.handle(":OUTP:STAT ON;")

	if r := ps.handle("MEAS:CURR?"); r.reply != "1" {
		t.Errorf("Expected current clamped at limit, got %q", r.reply)
	}
	if r := ps.handle("MEAS:VOLT?"); r.reply != "10" {
		t.Errorf("Expected voltage to fold back to 10, got %q", r.reply)
	}
}

func TestErrorQueue(t *testing.T) {
	ps := NewPowerSupply()

	ps.handle("VOLT 100;")
	ps.handle("BOGUS 1;")
	if r := ps.handle("FOO?"); r.hasReply {
		t.Errorf("Expected no reply for unknown query, got %q", r.reply)
	}

	want := []string{`-222,"Data out of range"`, `-113,"Undefined header"`, `-113,"Undefined header"`, `0,"No error"`}
	for _, w := range want {
		if r := ps.handle("SYST:ERR?"); r.reply != w {
			t.Errorf("Expected %s, got %s", w, r.reply)
		}
	}
	if v, _ := ps.Value("VOLT"); v != 0 {
		t.Errorf("Expected out-of-range value to be ignored, got %v", v)
	}
}

func TestSignalGeneratorPowerSuffix(t *testing.T) {
	sg := NewSignalGenerator()

	sg.handle("POW 97 DBUV;")
	if r := sg.handle("POW?"); r.reply != "-10" {
		t.Errorf("Expected -10 dBm after 97 dBuV, got %q", r.reply)
	}
	sg.handle("POW -20 DBM;")
	if r := sg.handle("POW?"); r.reply != "-20" {
		t.Errorf("Expected -20, got %q", r.reply)
	}
	sg.handle("POW 5 WATT;")
	if r := sg.handle("SYST:ERR?"); !strings.HasPrefix(r.reply, "-131") {
		t.Errorf("Expected invalid suffix error, got %q", r.reply)
	}
}

func TestResetRestoresDefaults(t *testing.T) {
	sg := NewSignalGenerator()
	sg.handle("FREQ 2000000000;")
	sg.handle("OUTP ON;")
	sg.handle("*RST;")

	if v, _ := sg.Value("FREQ"); v != 1e9 {
		t.Errorf("Expected default frequency after reset, got %v", v)
	}
	if v, _ := sg.Value("OUTP"); v != 0 {
		t.Errorf("Expected RF off after reset, got %v", v)
	}
}

func TestFaultCount(t *testing.T) {
	ps := NewPowerSupply()
	ps.SetFault("MEAS:VOLT?", Fault{Reply: "garbage", Count: 1})

	if r := ps.handle("MEAS:VOLT?"); r.reply != "garbage" {
		t.Errorf("Expected injected reply, got %q", r.reply)
	}
	if r := ps.handle("MEAS:VOLT?"); r.reply != "0" {
		t.Errorf("Expected fault to expire, got %q", r.reply)
	}
}

func TestServerRoundTrip(t *testing.T) {
	srv := NewServer(NewSignalGenerator())
	if err := srv.Start("127.0.0.1:0"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer srv.Close()

	conn, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	reader := bufio.NewReader(conn)

	fmt.Fprint(conn, "FREQ 2500000000;\n")
	fmt.Fprint(conn, "FREQ?\n")
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if strings.TrimSpace(line) != "2500000000" {
		t.Errorf("Expected 2500000000, got %q", line)
	}

	got := srv.Instrument().Received()
	if len(got) != 2 || got[0] != "FREQ 2500000000" || got[1] != "FREQ?" {
		t.Errorf("Unexpected received log: %v", got)
	}
}

func TestServerCloseDropsClients(t *testing.T) {
	srv := NewServer(NewPowerSupply())
	if err := srv.Start("127.0.0.1:0"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	conn, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Give the accept loop time to register the client.
	fmt.Fprint(conn, "*OPC?\n")
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := bufio.NewReader(conn).ReadString('\n'); err != nil {
		t.Fatalf("read: %v", err)
	}

	done := make(chan struct{})
	go func() {
		srv.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}
	if err := srv.Close(); err != nil {
		t.Errorf("Expected second Close to be a no-op, got %v", err)
	}
}
