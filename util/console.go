// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package util

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"

	"golang.org/x/crypto/ssh"
	"golang.org/x/term"
	"k8s.io/klog/v2"
)

// Console represents an inspection console instance, served either on a
// local terminal or over SSH.
type Console struct {
	// Banner is the login welcome banner
	Banner string
	// Help is the `help` command output
	Help string
	// Handler is the terminal command handler, io.EOF ends the session
	Handler func(*term.Terminal, string) error
	// Term is the terminal instance of the current session
	Term *term.Terminal
}

// Serve runs a console session on rw until EOF or exit.
func (c *Console) Serve(rw io.ReadWriter) {
	c.Term = term.NewTerminal(rw, "")
	c.Term.SetPrompt(string(c.Term.Escape.Red) + "> " + string(c.Term.Escape.Reset))

	fmt.Fprintf(c.Term, "%s\n", c.Banner)

	if c.Help != "" {
		fmt.Fprintf(c.Term, "%s\n", string(c.Term.Escape.Cyan)+c.Help+string(c.Term.Escape.Reset))
	}

	for {
		cmd, err := c.Term.ReadLine()

		if err == io.EOF {
			break
		}

		if err != nil {
			klog.Errorf("readline error: %v", err)
			continue
		}

		err = c.Handler(c.Term, cmd)

		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			fmt.Fprintf(c.Term, "error: %v\n", err)
		}
	}
}

func (c *Console) handleRequests(requests <-chan *ssh.Request) {
	for req := range requests {
		reqSize := len(req.Payload)

		switch req.Type {
		case "shell":
			// do not accept payload commands
			if len(req.Payload) == 0 {
				_ = req.Reply(true, nil)
			}
		case "pty-req":
			// p10, 6.2.  Requesting a Pseudo-Terminal, RFC4254
			if reqSize < 4 {
				klog.Warning("malformed pty-req request")
				continue
			}

			termVariableSize := int(req.Payload[3])

			if reqSize < 4+termVariableSize+8 {
				klog.Warning("malformed pty-req request")
				continue
			}

			w := binary.BigEndian.Uint32(req.Payload[4+termVariableSize:])
			h := binary.BigEndian.Uint32(req.Payload[4+termVariableSize+4:])

			if c.Term != nil {
				_ = c.Term.SetSize(int(w), int(h))
			}

			_ = req.Reply(true, nil)
		case "window-change":
			// p10, 6.7.  Window Dimension Change Message, RFC4254
			if reqSize < 8 {
				klog.Warning("malformed window-change request")
				continue
			}

			w := binary.BigEndian.Uint32(req.Payload)
			h := binary.BigEndian.Uint32(req.Payload[4:])

			if c.Term != nil {
				_ = c.Term.SetSize(int(w), int(h))
			}
		}
	}
}

func (c *Console) handleChannel(newChannel ssh.NewChannel) {
	if t := newChannel.ChannelType(); t != "session" {
		_ = newChannel.Reject(ssh.UnknownChannelType, fmt.Sprintf("unknown channel type: %s", t))
		return
	}

	conn, requests, err := newChannel.Accept()

	if err != nil {
		klog.Errorf("error accepting channel, %v", err)
		return
	}

	go c.handleRequests(requests)

	go func() {
		defer conn.Close()

		c.Serve(conn)
		klog.Info("closing ssh connection")
	}()
}

func (c *Console) listen(listener net.Listener, srv *ssh.ServerConfig) {
	for {
		conn, err := listener.Accept()

		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}

			klog.Errorf("error accepting connection, %v", err)
			continue
		}

		sshConn, chans, reqs, err := ssh.NewServerConn(conn, srv)

		if err != nil {
			klog.Errorf("error accepting handshake, %v", err)
			continue
		}

		klog.Infof("new ssh connection from %s (%s)", sshConn.RemoteAddr(), sshConn.ClientVersion())

		go ssh.DiscardRequests(reqs)

		go func() {
			for newChannel := range chans {
				go c.handleChannel(newChannel)
			}
		}()
	}
}

// Listen serves the console over SSH on the given listener, with an
// ephemeral host key and no client authentication.
func (c *Console) Listen(listener net.Listener) (err error) {
	srv := &ssh.ServerConfig{
		NoClientAuth: true,
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)

	if err != nil {
		return fmt.Errorf("private key generation error, %v", err)
	}

	signer, err := ssh.NewSignerFromKey(key)

	if err != nil {
		return fmt.Errorf("key conversion error, %v", err)
	}

	klog.Infof("starting ssh server (%s)", ssh.FingerprintSHA256(signer.PublicKey()))

	srv.AddHostKey(signer)

	go c.listen(listener, srv)

	return
}
