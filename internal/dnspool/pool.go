// Package dnspool recycles dns.Msg values for the resolver's query path.
package dnspool

import (
	"sync"

	"github.com/miekg/dns"
)

var msgPool = sync.Pool{
	New: func() any {
		return &dns.Msg{}
	},
}

// AcquireMsg returns an empty message from the pool.
func AcquireMsg() *dns.Msg {
	msg := msgPool.Get().(*dns.Msg)
	reset(msg)
	return msg
}

// ReleaseMsg hands msg back to the pool. The caller must not use it again.
func ReleaseMsg(msg *dns.Msg) {
	if msg == nil {
		return
	}
	reset(msg)
	msgPool.Put(msg)
}

func reset(msg *dns.Msg) {
	msg.MsgHdr = dns.MsgHdr{}
	msg.Compress = false
	clear(msg.Question)
	msg.Question = msg.Question[:0]
	clear(msg.Answer)
	msg.Answer = msg.Answer[:0]
	clear(msg.Ns)
	msg.Ns = msg.Ns[:0]
	clear(msg.Extra)
	msg.Extra = msg.Extra[:0]
}
