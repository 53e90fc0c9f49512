package link

import (
	"encoding/hex"
	"fmt"
	"strings"
)

var dtcDescriptions = map[string]string{
	"P0087": "Fuel Rail Pressure Too Low",
	"P0101": "Mass Air Flow Circuit Range/Performance",
	"P0106": "MAP Sensor Circuit Range/Performance",
	"P0171": "System Too Lean (Bank 1)",
	"P0172": "System Too Rich (Bank 1)",
	"P0234": "Turbocharger Overboost Condition",
	"P0300": "Random/Multiple Cylinder Misfire Detected",
	"P0325": "Knock Sensor 1 Circuit Malfunction",
	"P0420": "Catalyst System Efficiency Below Threshold",
	"P1290": "Throttle Control System Fault",
}

// Describe returns a description for a trouble code, or a generic one for
// codes not in the table.
func Describe(code string) string {
	if d, ok := dtcDescriptions[code]; ok {
		return d
	}
	return "Manufacturer or generic fault " + code
}

// ParseDTCResponse decodes an ELM327 reply to a mode 03 request. The legacy
// layout ("43 01 71 03 00 00 00"), the single frame CAN layout with a leading
// code count ("43 02 01 71 03 00") and multi-frame CAN replies ("0: 43 ...",
// "1: ...") are accepted. "NO DATA" yields no codes.
func ParseDTCResponse(resp string) ([]string, error) {
	type message struct {
		data   []byte
		framed bool
	}
	var msgs []*message
	for _, line := range strings.FieldsFunc(resp, func(r rune) bool { return r == '\r' || r == '\n' }) {
		line = strings.TrimSpace(line)
		framed := false
		if i := strings.IndexByte(line, ':'); i >= 0 && i <= 2 {
			line = line[i+1:]
			framed = true
		}
		hexStr := strings.ToUpper(strings.ReplaceAll(line, " ", ""))
		if hexStr == "" || hexStr == "NODATA" || strings.HasPrefix(hexStr, "SEARCHING") {
			continue
		}
		if !framed && len(hexStr)%2 == 1 && len(hexStr) <= 3 {
			continue // multi-frame byte count header
		}
		raw, err := hex.DecodeString(hexStr)
		if err != nil {
			return nil, fmt.Errorf("invalid DTC response %q: %w", line, err)
		}
		if len(raw) > 0 && raw[0] == 0x43 {
			msgs = append(msgs, &message{data: raw[1:], framed: framed})
			continue
		}
		if len(msgs) == 0 {
			return nil, fmt.Errorf("invalid DTC response %q: missing mode 03 header", line)
		}
		msgs[len(msgs)-1].data = append(msgs[len(msgs)-1].data, raw...)
	}

	var codes []string
	for _, m := range msgs {
		data := m.data
		limit := len(data) / 2
		if m.framed || len(data)%2 == 1 {
			if len(data) == 0 {
				continue
			}
			limit = int(data[0])
			data = data[1:]
		}
		for i := 0; i/2 < limit && i+1 < len(data); i += 2 {
			if data[i] == 0 && data[i+1] == 0 {
				continue
			}
			codes = append(codes, decodeDTC(data[i], data[i+1]))
		}
	}
	return codes, nil
}

func decodeDTC(a, b byte) string {
	system := "PCBU"[a>>6]
	return fmt.Sprintf("%c%d%X%02X", system, (a>>4)&0x03, a&0x0F, b)
}

// EncodeDTCResponse builds the legacy mode 03 reply for the given codes.
// Malformed codes are skipped.
func EncodeDTCResponse(codes []string) string {
	var sb strings.Builder
	sb.WriteString("43")
	for _, c := range codes {
		a, b, ok := encodeDTC(c)
		if !ok {
			continue
		}
		fmt.Fprintf(&sb, " %02X %02X", a, b)
	}
	return sb.String()
}

func encodeDTC(code string) (byte, byte, bool) {
	if len(code) != 5 {
		return 0, 0, false
	}
	system := strings.IndexByte("PCBU", code[0])
	if system < 0 {
		return 0, 0, false
	}
	raw, err := hex.DecodeString(code[1:])
	if err != nil || raw[0]>>4 > 3 {
		return 0, 0, false
	}
	return byte(system)<<6 | raw[0], raw[1], true
}
