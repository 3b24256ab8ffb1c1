package engine

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/hydrogen-services/hydrogen/internal/herr"
)

// probePG performs a standalone PostgreSQL startup + authentication
// handshake over a fresh TCP connection, independent of the database/sql
// driver used for actual query execution. Its only purpose is to classify a
// bad-credentials failure as herr.Unauthorized before the pool starts
// dialing real connections through pgx — pgx's own connection errors don't
// distinguish "wrong password" from "host unreachable" as cleanly as
// watching the wire handshake directly.
func probePG(ctx context.Context, host string, port int, user, password, dbname string, dialTimeout time.Duration) error {
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return herr.Wrap(herr.Unavailable, "dialing postgres", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(dialTimeout))

	var body []byte
	ver := make([]byte, 4)
	binary.BigEndian.PutUint32(ver, 3<<16|0)
	body = append(body, ver...)
	body = append(body, "user"...)
	body = append(body, 0)
	body = append(body, user...)
	body = append(body, 0)
	body = append(body, "database"...)
	body = append(body, 0)
	body = append(body, dbname...)
	body = append(body, 0)
	body = append(body, 0)

	msgLen := make([]byte, 4)
	binary.BigEndian.PutUint32(msgLen, uint32(4+len(body)))
	startupMsg := append(msgLen, body...)

	if _, err := conn.Write(startupMsg); err != nil {
		return herr.Wrap(herr.Unavailable, "sending startup message", err)
	}

	for {
		typeBuf := make([]byte, 1)
		if _, err := io.ReadFull(conn, typeBuf); err != nil {
			return herr.Wrap(herr.Unavailable, "reading message type", err)
		}
		msgType := typeBuf[0]

		lenBuf := make([]byte, 4)
		if _, err := io.ReadFull(conn, lenBuf); err != nil {
			return herr.Wrap(herr.Unavailable, "reading message length", err)
		}
		payloadLen := int(binary.BigEndian.Uint32(lenBuf)) - 4
		if payloadLen < 0 || payloadLen > 1<<24 {
			return herr.New(herr.Unavailable, "invalid message length from postgres")
		}

		payload := make([]byte, payloadLen)
		if payloadLen > 0 {
			if _, err := io.ReadFull(conn, payload); err != nil {
				return herr.Wrap(herr.Unavailable, "reading payload", err)
			}
		}

		switch msgType {
		case 'R': // Authentication
			if len(payload) < 4 {
				return herr.New(herr.Unavailable, "authentication message too short")
			}
			authType := binary.BigEndian.Uint32(payload[:4])
			switch authType {
			case 0: // AuthenticationOk
				continue
			case 3: // AuthenticationCleartextPassword
				if err := sendPGPasswordMessage(conn, password); err != nil {
					return herr.Wrap(herr.Unavailable, "sending password", err)
				}
			case 5: // AuthenticationMD5Password
				if len(payload) < 8 {
					return herr.New(herr.Unavailable, "MD5 auth message too short")
				}
				salt := payload[4:8]
				md5Pass := computeMD5Password(user, password, salt)
				if err := sendPGPasswordMessage(conn, md5Pass); err != nil {
					return herr.Wrap(herr.Unavailable, "sending password", err)
				}
			case 10: // AuthenticationSASL (SCRAM-SHA-256)
				if err := scramSHA256Auth(conn, user, password, payload); err != nil {
					return herr.Wrap(herr.Unauthorized, "SCRAM-SHA-256 authentication failed", err)
				}
			default:
				return herr.Newf(herr.Unavailable, "unsupported auth type: %d", authType)
			}

		case 'S', 'K': // ParameterStatus, BackendKeyData — not needed by the probe
			continue

		case 'Z': // ReadyForQuery
			if len(payload) >= 1 && payload[0] == 'I' {
				return nil
			}
			return herr.Newf(herr.Unavailable, "unexpected transaction status after auth: %c", payload[0])

		case 'E': // ErrorResponse
			return herr.New(herr.Unauthorized, parseErrorMessage(payload))

		default:
			continue
		}
	}
}

func sendPGPasswordMessage(conn net.Conn, password string) error {
	payload := append([]byte(password), 0)
	msgLen := len(payload) + 4
	buf := make([]byte, 1+4+len(payload))
	buf[0] = 'p'
	binary.BigEndian.PutUint32(buf[1:5], uint32(msgLen))
	copy(buf[5:], payload)
	_, err := conn.Write(buf)
	return err
}

// parseErrorMessage extracts the message ('M') field from a PG ErrorResponse payload.
func parseErrorMessage(payload []byte) string {
	for i := 0; i < len(payload); i++ {
		fieldType := payload[i]
		if fieldType == 0 {
			break
		}
		i++
		end := i
		for end < len(payload) && payload[end] != 0 {
			end++
		}
		if fieldType == 'M' {
			return string(payload[i:end])
		}
		i = end
	}
	return "unknown error"
}

// computeMD5Password computes the PostgreSQL MD5 password hash.
// Formula: "md5" + md5(md5(password + user) + salt)
func computeMD5Password(user, password string, salt []byte) string {
	h1 := md5.Sum([]byte(password + user))
	hex1 := hex.EncodeToString(h1[:])
	h2 := md5.Sum(append([]byte(hex1), salt...))
	return "md5" + hex.EncodeToString(h2[:])
}

// probeMySQL performs a standalone MySQL Protocol::Handshake v10 exchange
// over a fresh TCP connection for the same fast-fail reason as probePG.
func probeMySQL(ctx context.Context, host string, port int, user, password, dbname string, dialTimeout time.Duration) error {
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return herr.Wrap(herr.Unavailable, "dialing mysql", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(dialTimeout))

	pkt, _, err := readMySQLPacket(conn)
	if err != nil {
		return herr.Wrap(herr.Unavailable, "reading server handshake", err)
	}
	if len(pkt) < 1 {
		return herr.New(herr.Unavailable, "empty server handshake")
	}
	if pkt[0] == 0xff {
		return herr.New(herr.Unavailable, "server sent error on connect")
	}

	pos := 1
	for pos < len(pkt) && pkt[pos] != 0 {
		pos++
	}
	pos++
	if pos+4 > len(pkt) {
		return herr.New(herr.Unavailable, "handshake packet too short")
	}
	pos += 4

	if pos+8 > len(pkt) {
		return herr.New(herr.Unavailable, "handshake packet too short for auth data 1")
	}
	authData := make([]byte, 0, 20)
	authData = append(authData, pkt[pos:pos+8]...)
	pos += 8
	pos++

	if pos+2 > len(pkt) {
		return herr.New(herr.Unavailable, "handshake packet too short for capability flags")
	}
	capLow := uint32(binary.LittleEndian.Uint16(pkt[pos : pos+2]))
	pos += 2

	if pos+3 > len(pkt) {
		return herr.New(herr.Unavailable, "handshake packet too short for charset/status")
	}
	pos += 3

	if pos+2 > len(pkt) {
		return herr.New(herr.Unavailable, "handshake packet too short for capability flags high")
	}
	capHigh := uint32(binary.LittleEndian.Uint16(pkt[pos:pos+2])) << 16
	capFlags := capLow | capHigh
	pos += 2

	var authPluginDataLen int
	if pos < len(pkt) {
		authPluginDataLen = int(pkt[pos])
		pos++
	}
	pos += 10

	part2Len := authPluginDataLen - 8
	if part2Len < 13 {
		part2Len = 13
	}
	if pos+part2Len > len(pkt) {
		part2Len = len(pkt) - pos
	}
	if part2Len > 0 {
		part2 := pkt[pos : pos+part2Len]
		if len(part2) > 0 && part2[len(part2)-1] == 0 {
			part2 = part2[:len(part2)-1]
		}
		authData = append(authData, part2...)
	}
	pos += part2Len

	const clientPluginAuth = uint32(1 << 19)
	pluginName := "mysql_native_password"
	if capFlags&clientPluginAuth != 0 && pos < len(pkt) {
		end := pos
		for end < len(pkt) && pkt[end] != 0 {
			end++
		}
		pluginName = string(pkt[pos:end])
	}

	const (
		clientLongPassword     = uint32(1)
		clientConnectWithDB    = uint32(8)
		clientProtocol41       = uint32(512)
		clientSecureConnection = uint32(32768)
	)
	clientCaps := clientLongPassword | clientProtocol41 | clientSecureConnection | clientPluginAuth | clientConnectWithDB

	var authResp []byte
	switch pluginName {
	case "mysql_native_password":
		authResp = mysqlNativePasswordHash([]byte(password), authData)
	default:
		authResp = []byte{}
	}

	var resp []byte
	capBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(capBuf, clientCaps)
	resp = append(resp, capBuf...)
	resp = append(resp, 0xff, 0xff, 0xff, 0x00)
	resp = append(resp, 0x21)
	resp = append(resp, make([]byte, 23)...)
	resp = append(resp, []byte(user)...)
	resp = append(resp, 0)
	resp = append(resp, byte(len(authResp)))
	resp = append(resp, authResp...)
	resp = append(resp, []byte(dbname)...)
	resp = append(resp, 0)
	resp = append(resp, []byte("mysql_native_password")...)
	resp = append(resp, 0)

	if err := writeMySQLPacket(conn, resp, 1); err != nil {
		return herr.Wrap(herr.Unavailable, "sending handshake response", err)
	}

	pkt, _, err = readMySQLPacket(conn)
	if err != nil {
		return herr.Wrap(herr.Unavailable, "reading auth result", err)
	}
	if len(pkt) < 1 {
		return herr.New(herr.Unavailable, "empty auth result")
	}

	switch pkt[0] {
	case 0x00: // OK_Packet
		return nil
	case 0xfe: // AuthSwitchRequest
		if len(pkt) < 2 {
			return herr.New(herr.Unavailable, "malformed AuthSwitchRequest")
		}
		nameEnd := 1
		for nameEnd < len(pkt) && pkt[nameEnd] != 0 {
			nameEnd++
		}
		switchPlugin := string(pkt[1:nameEnd])
		var switchData []byte
		if nameEnd+1 < len(pkt) {
			switchData = pkt[nameEnd+1:]
			if len(switchData) > 0 && switchData[len(switchData)-1] == 0 {
				switchData = switchData[:len(switchData)-1]
			}
		}
		var switchResp []byte
		switch switchPlugin {
		case "mysql_native_password":
			switchResp = mysqlNativePasswordHash([]byte(password), switchData)
		default:
			return herr.Newf(herr.Unavailable, "unsupported auth plugin switch: %s", switchPlugin)
		}
		if err := writeMySQLPacket(conn, switchResp, 3); err != nil {
			return herr.Wrap(herr.Unavailable, "sending auth switch response", err)
		}
		pkt, _, err = readMySQLPacket(conn)
		if err != nil {
			return herr.Wrap(herr.Unavailable, "reading auth switch result", err)
		}
		if len(pkt) < 1 || pkt[0] != 0x00 {
			return herr.New(herr.Unauthorized, "mysql authentication failed after plugin switch")
		}
		return nil
	case 0xff: // ERR_Packet
		return herr.New(herr.Unauthorized, parseMySQLError(pkt))
	default:
		return herr.Newf(herr.Unavailable, "unexpected auth response byte: 0x%02x", pkt[0])
	}
}

// mysqlNativePasswordHash computes the mysql_native_password hash:
// SHA1(password) XOR SHA1(authData + SHA1(SHA1(password)))
func mysqlNativePasswordHash(password, authData []byte) []byte {
	if len(password) == 0 {
		return []byte{}
	}
	h1 := sha1.Sum(password) //nolint:gosec
	h2 := sha1.Sum(h1[:])    //nolint:gosec
	h := sha1.New()          //nolint:gosec
	h.Write(authData)
	h.Write(h2[:])
	h3 := h.Sum(nil)
	result := make([]byte, 20)
	for i := range result {
		result[i] = h1[i] ^ h3[i]
	}
	return result
}

func readMySQLPacket(conn net.Conn) (payload []byte, seq byte, err error) {
	hdr := make([]byte, 4)
	if _, err = io.ReadFull(conn, hdr); err != nil {
		return nil, 0, err
	}
	length := int(hdr[0]) | int(hdr[1])<<8 | int(hdr[2])<<16
	seq = hdr[3]
	if length == 0 {
		return []byte{}, seq, nil
	}
	payload = make([]byte, length)
	if _, err = io.ReadFull(conn, payload); err != nil {
		return nil, seq, err
	}
	return payload, seq, nil
}

func writeMySQLPacket(conn net.Conn, payload []byte, seq byte) error {
	hdr := make([]byte, 4)
	length := len(payload)
	hdr[0] = byte(length)
	hdr[1] = byte(length >> 8)
	hdr[2] = byte(length >> 16)
	hdr[3] = seq
	buf := append(hdr, payload...)
	_, err := conn.Write(buf)
	return err
}

// parseMySQLError extracts the error message from an ERR_Packet.
// Format: 0xff(1) + error_code(2) + '#'(1) + sqlstate(5) + message
func parseMySQLError(pkt []byte) string {
	if len(pkt) < 9 {
		return "unknown error"
	}
	return string(pkt[9:])
}
