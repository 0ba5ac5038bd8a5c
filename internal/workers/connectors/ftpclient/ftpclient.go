// Package ftpclient implements the minimal subset of RFC 959 the FTP
// connector worker needs: USER/PASS login, passive-mode data
// connections, and directory listing. No FTP client exists anywhere in
// the retrieval pack (see DESIGN.md), so this is built directly on
// net/textproto, the same layer net/smtp and net/http's chunked reader
// are built on in the standard library.
package ftpclient

import (
	"fmt"
	"io"
	"net"
	"net/textproto"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Client is a connected, logged-in (or login-pending) FTP control
// connection.
type Client struct {
	conn *textproto.Conn
	host string
}

// Dial connects to an FTP server's control port and reads its initial
// greeting.
func Dial(addr string) (*Client, error) {
	netConn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("ftpclient: dial: %w", err)
	}

	host, _, _ := net.SplitHostPort(addr)

	c := &Client{conn: textproto.NewConn(netConn), host: host}
	if _, _, err := c.conn.ReadResponse(220); err != nil {
		netConn.Close()
		return nil, fmt.Errorf("ftpclient: greeting: %w", err)
	}
	return c, nil
}

// Close closes the control connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Login authenticates with user/pass.
func (c *Client) Login(user, pass string) error {
	code, _, err := c.cmd("USER %s", user)
	if err != nil {
		return err
	}
	if code == 230 {
		return nil // no password required
	}
	if code != 331 {
		return fmt.Errorf("ftpclient: unexpected USER response code %d", code)
	}

	if _, _, err := c.cmd("PASS %s", pass); err != nil {
		return fmt.Errorf("ftpclient: login: %w", err)
	}
	return nil
}

// List returns the raw lines of the server's LIST response for path
// (one entry per line) via a passive-mode data connection.
func (c *Client) List(path string) ([]string, error) {
	if _, _, err := c.cmd("TYPE I"); err != nil {
		return nil, fmt.Errorf("ftpclient: type: %w", err)
	}

	dataConn, err := c.openPassive()
	if err != nil {
		return nil, err
	}
	defer dataConn.Close()

	id, err := c.conn.Cmd("LIST %s", path)
	if err != nil {
		return nil, fmt.Errorf("ftpclient: list: %w", err)
	}
	c.conn.StartResponse(id)
	code, msg, err := c.conn.ReadCodeLine(150)
	c.conn.EndResponse(id)
	if err != nil {
		if code == 125 {
			// some servers reply 125 instead of 150; fall through.
		} else {
			return nil, fmt.Errorf("ftpclient: list: %s", msg)
		}
	}

	data, err := io.ReadAll(dataConn)
	if err != nil {
		return nil, fmt.Errorf("ftpclient: read listing: %w", err)
	}

	if _, _, err := c.conn.ReadResponse(226); err != nil {
		return nil, fmt.Errorf("ftpclient: list: transfer complete: %w", err)
	}

	lines := strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			out = append(out, l)
		}
	}
	return out, nil
}

func (c *Client) cmd(format string, args ...any) (int, string, error) {
	id, err := c.conn.Cmd(format, args...)
	if err != nil {
		return 0, "", err
	}
	c.conn.StartResponse(id)
	defer c.conn.EndResponse(id)
	return c.conn.ReadResponse(0)
}

var pasvPattern = regexp.MustCompile(`\((\d+),(\d+),(\d+),(\d+),(\d+),(\d+)\)`)

// openPassive issues PASV and dials the returned data address.
func (c *Client) openPassive() (net.Conn, error) {
	_, msg, err := c.cmd("PASV")
	if err != nil {
		return nil, fmt.Errorf("ftpclient: pasv: %w", err)
	}

	m := pasvPattern.FindStringSubmatch(msg)
	if len(m) != 7 {
		return nil, fmt.Errorf("ftpclient: pasv: unparseable response %q", msg)
	}

	nums := make([]int, 6)
	for i, s := range m[1:] {
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("ftpclient: pasv: %w", err)
		}
		nums[i] = n
	}

	ip := fmt.Sprintf("%d.%d.%d.%d", nums[0], nums[1], nums[2], nums[3])
	port := nums[4]<<8 + nums[5]

	conn, err := net.DialTimeout("tcp", net.JoinHostPort(ip, strconv.Itoa(port)), 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("ftpclient: dial data conn: %w", err)
	}
	return conn, nil
}
