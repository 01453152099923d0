// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	mail "gopkg.in/gomail.v2"
)

// mailer sends an alert mail when the GPIO backend of a run faults.
// It is configured from the MAIL_USERNAME, MAIL_PASSWORD, MAIL_SERVER,
// MAIL_PORT and MAIL_TGTS environment variables.
type mailer struct {
	usr  string
	pwd  string
	srv  string
	port int
	tgts []string

	send func(m ...*mail.Message) error
}

func newMailer(getenv func(string) string) (*mailer, error) {
	m := &mailer{
		usr:  getenv("MAIL_USERNAME"),
		pwd:  getenv("MAIL_PASSWORD"),
		srv:  getenv("MAIL_SERVER"),
		port: atoi(getenv("MAIL_PORT")),
	}
	for _, tgt := range strings.Split(getenv("MAIL_TGTS"), ",") {
		tgt = strings.TrimSpace(tgt)
		if tgt != "" {
			m.tgts = append(m.tgts, tgt)
		}
	}
	if m.usr == "" || m.pwd == "" || m.srv == "" || m.port == 0 || len(m.tgts) == 0 {
		return nil, fmt.Errorf("missing mail alert credentials")
	}

	dial := mail.NewDialer(m.srv, m.port, m.usr, m.pwd)
	m.send = dial.DialAndSend
	return m, nil
}

func (m *mailer) message(host string, err error) *mail.Message {
	msg := mail.NewMessage()
	msg.SetHeader("From", m.usr)
	msg.SetHeader("Bcc", m.tgts...)
	msg.SetHeader("Subject", fmt.Sprintf("[gpio-daq] backend fault on %s", host))
	msg.SetBody("text/plain", fmt.Sprintf("host:  %s\nerror: %+v\n", host, err))
	return msg
}

// alert reports a backend fault by mail.
// Failures to send are only logged.
func (m *mailer) alert(err error) {
	host, e := os.Hostname()
	if e != nil {
		host = "unknown"
	}
	e = m.send(m.message(host, err))
	if e != nil {
		log.Printf("could not send mail alert: %+v", e)
	}
}

func atoi(s string) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return v
}
