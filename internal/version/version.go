// Package version хранит сведения о сборке, заполняемые через -ldflags:
//
//	go build -ldflags "-X github.com/vladislavdragonenkov/storefront/internal/version.version=v1.2.0"
//
// Без -ldflags commit и date берутся из VCS-меток, которые go build пишет в бинарь.
package version

import (
	"fmt"
	"runtime/debug"
	"sync"
)

// Product: имя сервиса в User-Agent и метках сборки.
const Product = "storefront"

const unknown = "unknown"

var (
	version = "dev"
	commit  = unknown
	date    = unknown
)

var vcsStamp = sync.OnceValues(func() (revision, at string) {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "", ""
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.time":
			at = s.Value
		}
	}
	if len(revision) > 12 {
		revision = revision[:12]
	}
	return revision, at
})

// Info возвращает версию, коммит и дату сборки.
func Info() (v, c, d string) {
	v, c, d = version, commit, date
	if c != unknown {
		return v, c, d
	}
	if revision, at := vcsStamp(); revision != "" {
		c = revision
		if d == unknown && at != "" {
			d = at
		}
	}
	return v, c, d
}

func String() string {
	v, c, d := Info()
	return fmt.Sprintf("version=%s commit=%s date=%s", v, c, d)
}

// UserAgent: значение заголовка User-Agent для исходящих запросов к MercadoPago и Twilio.
func UserAgent() string {
	v, c, _ := Info()
	return fmt.Sprintf("%s/%s (+%s)", Product, v, c)
}
