// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/go-lpc/gpio"
	mail "gopkg.in/gomail.v2"
)

func TestMailer(t *testing.T) {
	env := map[string]string{
		"MAIL_USERNAME": "daq@example.org",
		"MAIL_PASSWORD": "s3cr3t",
		"MAIL_SERVER":   "smtp.example.org",
		"MAIL_PORT":     "587",
		"MAIL_TGTS":     "shift@example.org, expert@example.org",
	}

	for _, key := range []string{"MAIL_USERNAME", "MAIL_PORT", "MAIL_TGTS"} {
		t.Run("missing-"+key, func(t *testing.T) {
			_, err := newMailer(func(k string) string {
				if k == key {
					return ""
				}
				return env[k]
			})
			if err == nil {
				t.Fatalf("expected an error")
			}
		})
	}

	m, err := newMailer(func(k string) string { return env[k] })
	if err != nil {
		t.Fatalf("could not create mailer: %+v", err)
	}
	if got, want := m.port, 587; got != want {
		t.Fatalf("invalid port: got=%d, want=%d", got, want)
	}

	var sent []*mail.Message
	m.send = func(msgs ...*mail.Message) error {
		sent = append(sent, msgs...)
		return nil
	}
	m.alert(fmt.Errorf("backend fault: %w", gpio.ErrIO))

	if got, want := len(sent), 1; got != want {
		t.Fatalf("invalid number of mails: got=%d, want=%d", got, want)
	}
	msg := sent[0]
	if got, want := msg.GetHeader("Bcc"), []string{"shift@example.org", "expert@example.org"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid targets: got=%q, want=%q", got, want)
	}
	if got, want := msg.GetHeader("From"), []string{"daq@example.org"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid sender: got=%q, want=%q", got, want)
	}
	subj := msg.GetHeader("Subject")
	if len(subj) != 1 || !strings.HasPrefix(subj[0], "[gpio-daq] backend fault on ") {
		t.Fatalf("invalid subject: %q", subj)
	}
}
