package udpproxy

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nivisproxy/l4proxy/internal/config"
	"github.com/nivisproxy/l4proxy/internal/state"
)

// echoUDPBackend binds a UDP socket and echoes every datagram back to its
// sender.
func echoUDPBackend(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)

	go func() {
		buf := make([]byte, 2048)
		for {
			n, addr, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			conn.WriteToUDP(buf[:n], addr)
		}
	}()
	return conn
}

func TestUDPEngineTranslatesRoundTrip(t *testing.T) {
	backend := echoUDPBackend(t)
	defer backend.Close()

	st := state.New()
	cfg := config.Defaults()
	cfg.Listen.TCPAddress = "127.0.0.1:0"
	cfg.Listen.UDPAddress = "127.0.0.1:0"
	cfg.Backends = []config.Backend{{Address: backend.LocalAddr().String(), Healthy: true}}
	st.UpdateConfig(&cfg)

	engine := New(st, zap.NewNop())

	frontConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	frontAddr := frontConn.LocalAddr().String()
	frontConn.Close() // free the port; Serve will rebind it

	go engine.Serve(frontAddr)
	time.Sleep(50 * time.Millisecond)

	client, err := net.Dial("udp", frontAddr)
	require.NoError(t, err)
	defer client.Close()

	client.SetDeadline(time.Now().Add(2 * time.Second))
	_, err = client.Write([]byte("ping"))
	require.NoError(t, err)

	buf := make([]byte, 16)
	n, err := client.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "ping", string(buf[:n]))

	require.Equal(t, 1, engine.table.size())
}

func TestUDPEngineDisabledWithEmptyAddress(t *testing.T) {
	st := state.New()
	engine := New(st, zap.NewNop())
	err := engine.Serve("")
	require.NoError(t, err)
}

func TestSessionTableRemoveIdle(t *testing.T) {
	table := newSessionTable()
	backendAddr, err := net.ResolveUDPAddr("udp", "127.0.0.1:9999")
	require.NoError(t, err)
	clientAddr, err := net.ResolveUDPAddr("udp", "127.0.0.1:1111")
	require.NoError(t, err)

	sess := &session{
		backendAddrString: backendAddr.String(),
		backendAddr:       backendAddr,
		clientAddr:        clientAddr,
		lastActivity:      time.Now().Add(-time.Hour),
	}
	table.insert(keyFor(clientAddr), sess)
	require.Equal(t, 1, table.size())

	removed := table.removeIdle(time.Minute)
	require.Equal(t, 1, removed)
	require.Equal(t, 0, table.size())

	_, ok := table.lookupByBackend(backendAddr.String())
	require.False(t, ok, "reverse entry must be gone alongside the forward entry")
}
