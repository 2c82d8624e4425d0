package quicclient

import (
	"context"
	"fmt"
	"net"
	"time"
)

// happyEyeballsConnAttemptDelay is how long the dialer waits for the
// first peer address to connect before racing the next one, mirroring
// original_source/quic/client/QuicClientTransport.h's
// HappyEyeballsConnAttemptDelayTimeout.
const happyEyeballsConnAttemptDelay = 150 * time.Millisecond

// dialFunc is a single Happy Eyeballs candidate attempt. It must not
// resolve merely because a socket opened: dialUDP (dial_probe.go) blocks
// inside here until its peer actually answers the Initial packet it
// sent, or until it times out — that is what makes the race below
// resolve on the first valid server response rather than on
// net.ListenUDP/net.DialUDP returning, which never blocks.
type dialFunc func(context.Context, net.Addr) (*probeResult, error)

type dialAttempt struct {
	result *probeResult
	addr   net.Addr
	err    error
}

// dialHappyEyeballs races dialOne across addrs, starting with addrs[0]
// and launching the next candidate every happyEyeballsConnAttemptDelay
// until one's peer answers, per spec §4.3's Happy Eyeballs paragraph and
// testable property 6. With Happy Eyeballs disabled or only one address
// configured, it just dials addrs[0] directly. Every candidate that
// isn't the winner — whether it already failed, already succeeded too
// late, or is still waiting on its peer — is closed, discarding whatever
// packets it was holding onto.
func dialHappyEyeballs(ctx context.Context, addrs []net.Addr, enabled bool, dialOne dialFunc) (*probeResult, net.Addr, error) {
	if len(addrs) == 0 {
		return nil, nil, fmt.Errorf("quicclient: no peer address configured; call ClientConfig.AddPeerAddress before Start")
	}
	if !enabled || len(addrs) == 1 {
		res, err := dialOne(ctx, addrs[0])
		if err != nil {
			return nil, nil, err
		}
		return res, addrs[0], nil
	}

	ctx, cancel := context.WithCancel(ctx)

	results := make(chan dialAttempt, len(addrs))
	launch := func(addr net.Addr) {
		res, err := dialOne(ctx, addr)
		results <- dialAttempt{result: res, addr: addr, err: err}
	}

	go launch(addrs[0])
	launched := 1

	timer := time.NewTimer(happyEyeballsConnAttemptDelay)
	defer timer.Stop()

	var errs []error
	var winner *dialAttempt
	drained := 0
	for winner == nil && drained < len(addrs) {
		select {
		case res := <-results:
			drained++
			if res.err == nil {
				winner = &res
				break
			}
			errs = append(errs, res.err)
		case <-timer.C:
			if launched < len(addrs) {
				go launch(addrs[launched])
				launched++
				timer.Reset(happyEyeballsConnAttemptDelay)
			}
		}
	}
	cancel()

	if remaining := launched - drained; remaining > 0 {
		go closeLosers(results, remaining)
	}

	if winner == nil {
		return nil, nil, fmt.Errorf("quicclient: every peer address failed: %v", errs)
	}
	return winner.result, winner.addr, nil
}

// closeLosers drains the remaining in-flight candidates (cancel already
// told each of them to give up) and closes any that still succeeded —
// they answered their own Initial probe, just not first.
func closeLosers(results <-chan dialAttempt, remaining int) {
	for i := 0; i < remaining; i++ {
		res := <-results
		if res.err == nil {
			res.result.Close()
		}
	}
}
