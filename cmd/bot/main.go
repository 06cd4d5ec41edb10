package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/websocket"

	"voxelmarch.ai/internal/protocol"
	"voxelmarch.ai/internal/sim/encoding"
	"voxelmarch.ai/internal/sim/gen"
	"voxelmarch.ai/internal/sim/octree"
)

// bot paints random boxes into a running server and periodically pulls an
// export to check that it decodes.
func main() {
	var (
		url       = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name      = flag.String("name", "bot", "client name")
		every     = flag.Duration("every", 500*time.Millisecond, "paint interval")
		side      = flag.Int("side", 32, "paint inside [0,side)^3")
		maxBox    = flag.Int("max_box", 6, "largest box edge")
		exportN   = flag.Int("export_every", 20, "request an export every N paints (0 disables)")
		seedScene = flag.Int("gen", -1, "replace the scene with a generated volume of this log extent first (-1 disables)")
		seed      = flag.Int64("seed", time.Now().UnixNano(), "rng seed")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ClientName:      *name,
		Subscribe:       true,
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	msgs := make(chan []byte, 16)
	binary := make(chan []byte, 1)
	go func() {
		defer close(msgs)
		for {
			kind, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if kind == websocket.BinaryMessage {
				binary <- msg
				continue
			}
			msgs <- msg
		}
	}()

	rng := rand.New(rand.NewSource(*seed))
	ticker := time.NewTicker(*every)
	defer ticker.Stop()
	var painted int
	var welcomed bool
	for {
		select {
		case <-stop:
			return

		case msg, ok := <-msgs:
			if !ok {
				logger.Printf("connection closed")
				return
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil {
				continue
			}
			switch base.Type {
			case protocol.TypeWelcome:
				var w protocol.WelcomeMsg
				if err := json.Unmarshal(msg, &w); err != nil {
					continue
				}
				welcomed = true
				logger.Printf("WELCOME client_id=%s rev=%d log_extent=%d max_log_extent=%d", w.ClientID, w.Revision, w.LogExtent, w.Limits.MaxLogExtent)
				if *seedScene >= 0 {
					if err := sendVolume(conn, rng.Int63(), *seedScene); err != nil {
						logger.Printf("volume: %v", err)
					}
				}
			case protocol.TypeAck:
				var a protocol.AckMsg
				if err := json.Unmarshal(msg, &a); err == nil && !a.Accepted {
					logger.Printf("rejected %s: %s %s", a.AckFor, a.Code, a.Message)
				}
			case protocol.TypeUpdate:
				var u protocol.UpdateMsg
				if err := json.Unmarshal(msg, &u); err == nil && u.Revision%50 == 0 {
					logger.Printf("rev=%d log_extent=%d nodes=%s", u.Revision, u.LogExtent, humanize.Comma(int64(u.Nodes)))
				}
			case protocol.TypeExportReady:
				var r protocol.ExportReadyMsg
				if err := json.Unmarshal(msg, &r); err != nil {
					continue
				}
				select {
				case raw := <-binary:
					checkExport(logger, r, raw)
				case <-time.After(5 * time.Second):
					logger.Printf("export %s: no binary frame", r.ID)
				}
			case protocol.TypeError:
				logger.Printf("ERROR %s", string(msg))
			}

		case <-ticker.C:
			if !welcomed {
				continue
			}
			painted++
			p := randomPaint(rng, painted, *side, *maxBox)
			if err := conn.WriteJSON(p); err != nil {
				logger.Printf("send PAINT: %v", err)
				return
			}
			if *exportN > 0 && painted%*exportN == 0 {
				req := protocol.ExportMsg{Type: protocol.TypeExport, ProtocolVersion: protocol.Version, ID: fmt.Sprintf("E_%d", painted)}
				if err := conn.WriteJSON(req); err != nil {
					logger.Printf("send EXPORT: %v", err)
					return
				}
			}
		}
	}
}

func randomPaint(rng *rand.Rand, n, side, maxBox int) protocol.PaintMsg {
	var off, ext [3]int
	for a := 0; a < 3; a++ {
		ext[a] = 1 + rng.Intn(maxBox)
		off[a] = rng.Intn(max(side-ext[a], 1))
	}
	// Roughly one in four paints carves air back out.
	v := uint32(1 + rng.Intn(4))
	if rng.Intn(4) == 0 {
		v = uint32(octree.Empty)
	}
	return protocol.PaintMsg{
		Type:            protocol.TypePaint,
		ProtocolVersion: protocol.Version,
		ID:              fmt.Sprintf("P_%d", n),
		Offset:          off,
		Extent:          ext,
		Value:           v,
	}
}

func sendVolume(conn *websocket.Conn, seed int64, logExtent int) error {
	vals, err := gen.Generate(gen.Defaults(seed, logExtent))
	if err != nil {
		return err
	}
	words := make([]uint32, len(vals))
	for i, v := range vals {
		words[i] = uint32(v)
	}
	return conn.WriteJSON(protocol.VolumeMsg{
		Type:            protocol.TypeVolume,
		ProtocolVersion: protocol.Version,
		ID:              "V_gen",
		RLE:             encoding.EncodeRLE(words),
	})
}

func checkExport(logger *log.Logger, r protocol.ExportReadyMsg, raw []byte) {
	words, err := octree.DecodeGPUBytes(raw)
	if err == nil {
		_, err = octree.DecodeGPUBuffer(words)
	}
	if err != nil {
		logger.Printf("export %s rev=%d: %v", r.ID, r.Revision, err)
		return
	}
	logger.Printf("export %s rev=%d nodes=%s size=%s", r.ID, r.Revision, humanize.Comma(int64(r.Nodes)), humanize.Bytes(uint64(len(raw))))
}
