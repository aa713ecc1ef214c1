// Package nntp implements the NNTP sessions and the fixed-size connection
// pool used to probe and fetch Usenet articles.
package nntp

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/proxy"

	"github.com/javi11/nzbinspect/internal/errors"
)

// Response codes this client acts on.
const (
	codeReady         = 200
	codeReadyNoPost   = 201
	codeBodyFollows   = 222
	codeArticleExists = 223
	codeAuthOK        = 281
	codeAuthMore      = 381
	codeNoSuchArticle = 430
	codeNoArticleNum  = 423
)

const defaultCommandTimeout = 30 * time.Second

// Options describes how to reach and authenticate against one news server.
type Options struct {
	Host           string
	Port           int
	Username       string
	Password       string
	TLS            bool
	InsecureTLS    bool
	ProxyURL       string
	ConnectTimeout time.Duration
	CommandTimeout time.Duration
}

// Address returns host:port.
func (o Options) Address() string {
	return net.JoinHostPort(o.Host, strconv.Itoa(o.Port))
}

// Client is one authenticated NNTP session. It is not safe for concurrent use.
type Client struct {
	conn           net.Conn
	text           *textproto.Conn
	commandTimeout time.Duration
}

// Dial connects, optionally through a SOCKS5 proxy and TLS, reads the
// greeting and authenticates when credentials are set.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	if strings.TrimSpace(opts.Host) == "" {
		return nil, errors.NewNonRetryableError("nntp host is required", nil)
	}

	if opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.ConnectTimeout)
		defer cancel()
	}

	conn, err := dialConn(ctx, opts)
	if err != nil {
		return nil, errors.NewTransportError("dial", err)
	}

	if opts.TLS {
		tlsConn := tls.Client(conn, &tls.Config{
			ServerName:         opts.Host,
			InsecureSkipVerify: opts.InsecureTLS,
		})
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			_ = conn.Close()
			return nil, errors.NewTransportError("tls handshake", err)
		}
		conn = tlsConn
	}

	c := newClient(conn, opts.CommandTimeout)
	if err := c.initialize(ctx, opts.Username, opts.Password); err != nil {
		_ = c.conn.Close()
		return nil, err
	}

	return c, nil
}

func dialConn(ctx context.Context, opts Options) (net.Conn, error) {
	direct := &net.Dialer{KeepAlive: 30 * time.Second}
	if opts.ProxyURL == "" {
		return direct.DialContext(ctx, "tcp", opts.Address())
	}

	u, err := url.Parse(opts.ProxyURL)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy url: %w", err)
	}
	d, err := proxy.FromURL(u, direct)
	if err != nil {
		return nil, fmt.Errorf("failed to create proxy dialer: %w", err)
	}
	if cd, ok := d.(proxy.ContextDialer); ok {
		return cd.DialContext(ctx, "tcp", opts.Address())
	}
	return d.Dial("tcp", opts.Address())
}

func newClient(conn net.Conn, commandTimeout time.Duration) *Client {
	if commandTimeout <= 0 {
		commandTimeout = defaultCommandTimeout
	}
	return &Client{
		conn:           conn,
		text:           textproto.NewConn(conn),
		commandTimeout: commandTimeout,
	}
}

func (c *Client) initialize(ctx context.Context, username, password string) error {
	code, msg, err := c.readResponse(ctx)
	if err != nil {
		return errors.NewTransportError("greeting", err)
	}
	if code != codeReady && code != codeReadyNoPost {
		return errors.NewTransportError("greeting", fmt.Errorf("unexpected status %d %s", code, msg))
	}

	if strings.TrimSpace(username) == "" {
		return nil
	}

	code, msg, err = c.sendCommand(ctx, "AUTHINFO USER %s", username)
	if err != nil {
		return errors.NewTransportError("auth user", err)
	}
	if code == codeAuthMore {
		code, msg, err = c.sendCommand(ctx, "AUTHINFO PASS %s", password)
		if err != nil {
			return errors.NewTransportError("auth pass", err)
		}
	}
	if code != codeAuthOK {
		return errors.NewNonRetryableError(fmt.Sprintf("authentication rejected: %d %s", code, msg), nil)
	}

	return nil
}

// Stat checks that an article exists. A missing article yields
// errors.ErrArticleNotFound; anything else unexpected is a TransportError.
func (c *Client) Stat(ctx context.Context, messageID string) error {
	code, msg, err := c.sendCommand(ctx, "STAT %s", normalizeID(messageID))
	if err != nil {
		return errors.NewTransportError("stat", err)
	}

	switch code {
	case codeArticleExists:
		return nil
	case codeNoSuchArticle, codeNoArticleNum:
		return fmt.Errorf("stat %s: %w", messageID, errors.ErrArticleNotFound)
	default:
		return errors.NewTransportError("stat", fmt.Errorf("unexpected status %d %s", code, msg))
	}
}

// Body fetches the body of an article as it appears on the wire: CRLF line
// endings and dot-stuffing are kept, the terminating "." line is not.
func (c *Client) Body(ctx context.Context, messageID string) ([]byte, error) {
	code, msg, err := c.sendCommand(ctx, "BODY %s", normalizeID(messageID))
	if err != nil {
		return nil, errors.NewTransportError("body", err)
	}

	switch code {
	case codeBodyFollows:
	case codeNoSuchArticle, codeNoArticleNum:
		return nil, fmt.Errorf("body %s: %w", messageID, errors.ErrArticleNotFound)
	default:
		return nil, errors.NewTransportError("body", fmt.Errorf("unexpected status %d %s", code, msg))
	}

	defer c.interrupt(ctx)()
	body, err := c.readRawBody()
	if err != nil {
		return nil, errors.NewTransportError("body", err)
	}
	return body, nil
}

func (c *Client) readRawBody() ([]byte, error) {
	var buf bytes.Buffer
	lineStart := true
	for {
		chunk, err := c.text.R.ReadSlice('\n')
		if err == nil && lineStart && isTerminator(chunk) {
			return buf.Bytes(), nil
		}
		buf.Write(chunk)

		switch err {
		case nil:
			lineStart = true
		case bufio.ErrBufferFull:
			lineStart = false
		case io.EOF:
			return nil, io.ErrUnexpectedEOF
		default:
			return nil, err
		}
	}
}

func isTerminator(line []byte) bool {
	return bytes.Equal(line, []byte(".\r\n")) || bytes.Equal(line, []byte(".\n"))
}

// Close sends QUIT and closes the socket.
func (c *Client) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, _, _ = c.sendCommand(ctx, "QUIT")
	return c.conn.Close()
}

// interrupt unblocks pending socket I/O once ctx is done.
func (c *Client) interrupt(ctx context.Context) (stop func() bool) {
	return context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Unix(1, 0))
	})
}

func (c *Client) sendCommand(ctx context.Context, format string, args ...any) (int, string, error) {
	if err := ctx.Err(); err != nil {
		return 0, "", err
	}
	defer c.interrupt(ctx)()

	if err := c.setDeadline(ctx); err != nil {
		return 0, "", err
	}
	if err := c.text.PrintfLine(format, args...); err != nil {
		return 0, "", err
	}
	return c.readResponse(ctx)
}

func (c *Client) readResponse(ctx context.Context) (int, string, error) {
	if err := c.setDeadline(ctx); err != nil {
		return 0, "", err
	}

	line, err := c.text.ReadLine()
	if err != nil {
		return 0, "", err
	}
	if len(line) < 3 {
		return 0, "", fmt.Errorf("malformed response: %q", line)
	}

	code, err := strconv.Atoi(line[:3])
	if err != nil {
		return 0, "", fmt.Errorf("invalid response code: %w", err)
	}

	return code, strings.TrimSpace(line[3:]), nil
}

// setDeadline applies the context deadline, or the command timeout when the
// context has none, to the whole exchange.
func (c *Client) setDeadline(ctx context.Context) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.commandTimeout)
	}
	return c.conn.SetDeadline(deadline)
}

func normalizeID(id string) string {
	id = strings.TrimSpace(id)
	if !strings.HasPrefix(id, "<") {
		id = "<" + id + ">"
	}
	return id
}
