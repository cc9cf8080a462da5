/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2021 Kopano and its licensors
 */

package status

import (
	"fmt"
	"io"
	"text/template"

	"github.com/muesli/termenv"
)

const prettyTemplate = `
{{- WithReadyForground (Bold "listener")}}: {{.Listener.Mode}} {{.Listener.Address}}:{{.Listener.Port}}
  {{Bold "ready"}}: {{.Listener.Ready}}
  {{Bold "running"}}: {{.Listener.Running}}
  {{Bold "tls"}}: {{.Listener.TLS}}

{{WithSenderForground (Bold "sender")}}: {{.Sender.Mode}} {{.Sender.Host}}:{{.Sender.Port}}
  {{Bold "ready"}}: {{.Sender.Ready}}
  {{Bold "running"}}: {{.Sender.Running}}
  {{Bold "tls"}}: {{.Sender.TLS}}

{{WithStorageForground (Bold "storage")}}:
  {{Bold "ready"}}: {{.Storage.Ready}}

{{Bold "timer"}}:
  {{Bold "enabled"}}: {{.Timer.Enabled}}
  {{Bold "interval"}}: {{.Timer.Sec}}s
`

func templateFuncs(p termenv.Profile, status *Status) template.FuncMap {
	okColor := p.Color("112")
	nokColor := p.Color("196")

	withColor := func(ok bool, value string) string {
		s := termenv.String(value)
		if ok {
			s = s.Foreground(okColor)
		} else {
			s = s.Foreground(nokColor)
		}
		return s.String()
	}

	return template.FuncMap{
		"Bold": func(values ...interface{}) string {
			if p == termenv.Ascii {
				return values[0].(string)
			}
			return termenv.String(values[0].(string)).Bold().String()
		},
		"WithReadyForground": func(values ...interface{}) string {
			return withColor(status.Listener.Ready, fmt.Sprintf("%v", values[len(values)-1]))
		},
		"WithSenderForground": func(values ...interface{}) string {
			return withColor(status.Sender.Ready, fmt.Sprintf("%v", values[len(values)-1]))
		},
		"WithStorageForground": func(values ...interface{}) string {
			return withColor(status.Storage.Ready, fmt.Sprintf("%v", values[len(values)-1]))
		},
	}
}

func outputPretty(w io.Writer, status *Status) error {
	f := templateFuncs(termenv.ColorProfile(), status)
	tpl, err := template.New("tpl").Funcs(f).Parse(prettyTemplate)
	if err != nil {
		panic(err)
	}
	return tpl.Execute(w, status)
}
