// Package trackerclient implements the peer-side half of the announce
// protocol: build the request URL, percent-encode the binary info-hash
// and peer-id, and decode the tracker's dictionary-format response.
package trackerclient

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/jackpal/bencode-go"
)

// PeerAddr is one swarm member as the tracker reports it.
type PeerAddr struct {
	ID   string `bencode:"peer id"`
	IP   string `bencode:"ip"`
	Port int    `bencode:"port"`
}

type response struct {
	Interval      int        `bencode:"interval"`
	Peers         []PeerAddr `bencode:"peers"`
	FailureReason string     `bencode:"failure reason"`
}

// Response is a decoded, successful announce response.
type Response struct {
	Interval int
	Peers    []PeerAddr
}

// Announce sends a GET request for the given event ("", "started",
// "completed", or "stopped") and decodes the tracker's reply.
func Announce(announceURL string, infoHash, peerID [20]byte, port uint16, uploaded, downloaded, left int64, event string) (*Response, error) {
	u, err := url.Parse(announceURL)
	if err != nil {
		return nil, fmt.Errorf("trackerclient: parse announce url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("trackerclient: unsupported announce scheme %q", u.Scheme)
	}

	q := url.Values{
		"port":       []string{strconv.Itoa(int(port))},
		"uploaded":   []string{strconv.FormatInt(uploaded, 10)},
		"downloaded": []string{strconv.FormatInt(downloaded, 10)},
		"left":       []string{strconv.FormatInt(left, 10)},
	}
	if event != "" {
		q.Set("event", event)
	}
	u.RawQuery = q.Encode() + "&info_hash=" + percentEncode(infoHash[:]) + "&peer_id=" + percentEncode(peerID[:])

	resp, err := http.Get(u.String())
	if err != nil {
		return nil, fmt.Errorf("trackerclient: announce: %w", err)
	}
	defer resp.Body.Close()

	var decoded response
	if err := bencode.Unmarshal(resp.Body, &decoded); err != nil {
		return nil, fmt.Errorf("trackerclient: decode response: %w", err)
	}
	if decoded.FailureReason != "" {
		return nil, fmt.Errorf("trackerclient: tracker reported failure: %s", decoded.FailureReason)
	}
	return &Response{Interval: decoded.Interval, Peers: decoded.Peers}, nil
}

func percentEncode(b []byte) string {
	buf := make([]byte, 0, len(b)*3)
	for _, v := range b {
		buf = append(buf, '%')
		buf = append(buf, hexDigits[v>>4], hexDigits[v&0xf])
	}
	return string(buf)
}

const hexDigits = "0123456789ABCDEF"
