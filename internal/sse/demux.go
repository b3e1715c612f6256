// Package sse 把 SSE 字节流切分为事件。
//
// 记录以空行分隔, 只读取 "data:" 行; 一条记录内多行 data 以 \n 拼接。
// 网络分块可能在任意位置切断记录, 未完成的尾部保留到下一块。
package sse

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/Jetapult/Gamepac-CM-ProdCoP-Frontend-sub001/internal/uistate"
	apperrors "github.com/Jetapult/Gamepac-CM-ProdCoP-Frontend-sub001/pkg/errors"
	"github.com/Jetapult/Gamepac-CM-ProdCoP-Frontend-sub001/pkg/logger"
)

const (
	// DefaultMaxRecordBytes 单条记录上限; 超出时丢弃该记录。
	DefaultMaxRecordBytes = 4 << 20

	readChunkBytes = 4 << 10
	doneSentinel   = "[DONE]"
)

var (
	recordSep = []byte("\n\n")
	dataField = []byte("data:")
	crlf      = []byte("\r\n")
	lf        = []byte("\n")
)

// Demuxer 有状态的分块解析器, 非并发安全。
//
// buf 只保存已归一化的字节; scan 之前的部分已确认不含分隔符,
// 每块只检查新追加的字节, 长记录跨多块到达时保持线性。
type Demuxer struct {
	buf       []byte
	scan      int
	pendingCR bool // 上一块以 \r 结尾, 尚未写入 buf
	maxRecord int
	malformed int
	dropping  bool
}

// NewDemuxer 创建解析器。
func NewDemuxer() *Demuxer {
	return &Demuxer{maxRecord: DefaultMaxRecordBytes}
}

// Malformed 已跳过的非法记录数。
func (d *Demuxer) Malformed() int { return d.malformed }

// Feed 追加一块数据, 返回其中完整记录解析出的事件 (保持顺序)。
func (d *Demuxer) Feed(chunk []byte) []uistate.Event {
	d.appendNormalized(chunk)

	var events []uistate.Event
	for {
		// 分隔符可能跨越上次扫描的末尾, 回退一个字节
		from := d.scan
		if from > 0 {
			from--
		}
		i := bytes.Index(d.buf[from:], recordSep)
		if i < 0 {
			d.scan = len(d.buf)
			break
		}
		i += from
		record := d.buf[:i]
		d.buf = d.buf[i+len(recordSep):]
		d.scan = 0
		if d.dropping {
			d.dropping = false
			continue
		}
		if ev, ok := d.parseRecord(record); ok {
			events = append(events, ev)
		}
	}

	if len(d.buf) > d.maxRecord {
		logger.Warn("sse: oversized record dropped", logger.FieldBytes, len(d.buf))
		d.buf = d.buf[:0]
		d.scan = 0
		d.dropping = true
		d.malformed++
	}
	// 压缩底层数组, 避免长流持续增长
	if cap(d.buf) > 2*readChunkBytes && len(d.buf) < cap(d.buf)/4 {
		d.buf = append([]byte(nil), d.buf...)
	}
	return events
}

// appendNormalized 把 chunk 中的 \r\n 归一为 \n 后追加到 buf。
// 末尾孤立的 \r 暂存到 pendingCR, 由下一块决定它是否属于 \r\n。
func (d *Demuxer) appendNormalized(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	if d.pendingCR {
		d.pendingCR = false
		if chunk[0] == '\n' {
			d.buf = append(d.buf, '\n')
			chunk = chunk[1:]
		} else {
			d.buf = append(d.buf, '\r')
		}
	}
	if n := len(chunk); n > 0 && chunk[n-1] == '\r' {
		d.pendingCR = true
		chunk = chunk[:n-1]
	}
	if bytes.IndexByte(chunk, '\r') < 0 {
		d.buf = append(d.buf, chunk...)
		return
	}
	d.buf = append(d.buf, bytes.ReplaceAll(chunk, crlf, lf)...)
}

// Flush 流结束时处理残留的最后一条记录。
func (d *Demuxer) Flush() []uistate.Event {
	rest := bytes.TrimRight(d.buf, "\r\n")
	d.buf = nil
	d.scan = 0
	d.pendingCR = false
	dropping := d.dropping
	d.dropping = false
	if len(rest) == 0 || dropping {
		return nil
	}
	if ev, ok := d.parseRecord(rest); ok {
		return []uistate.Event{ev}
	}
	return nil
}

func (d *Demuxer) parseRecord(record []byte) (uistate.Event, bool) {
	var data [][]byte
	for _, line := range bytes.Split(record, []byte("\n")) {
		if !bytes.HasPrefix(line, dataField) {
			continue // event:/id:/retry:/注释行
		}
		value := line[len(dataField):]
		if len(value) > 0 && value[0] == ' ' {
			value = value[1:]
		}
		data = append(data, value)
	}
	if len(data) == 0 {
		return uistate.Event{}, false
	}
	payload := bytes.Join(data, []byte("\n"))
	if string(bytes.TrimSpace(payload)) == doneSentinel {
		return uistate.Event{}, false
	}
	ev, err := uistate.DecodeEvent(payload)
	if err != nil {
		d.malformed++
		logger.Warn("sse: malformed event skipped",
			logger.FieldError, err,
			logger.FieldRaw, truncate(payload, 200))
		return uistate.Event{}, false
	}
	return ev, true
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// Decode 从 r 读取 SSE 流并按顺序回调每个事件。
//
// fn 返回错误时停止读取并返回该错误。r 到达 EOF 时处理残留记录后返回 nil。
// ctx 取消后返回 ctx 的错误 (由调用方负责关闭 r 以打断阻塞读)。
func Decode(ctx context.Context, r io.Reader, fn func(uistate.Event) error) error {
	d := NewDemuxer()
	buf := make([]byte, readChunkBytes)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, readErr := r.Read(buf)
		if n > 0 {
			for _, ev := range d.Feed(buf[:n]) {
				if err := fn(ev); err != nil {
					return err
				}
			}
		}
		if readErr == nil {
			continue
		}
		if !errors.Is(readErr, io.EOF) {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return apperrors.Wrap(readErr, "sse.Decode", "read stream")
		}
		for _, ev := range d.Flush() {
			if err := fn(ev); err != nil {
				return err
			}
		}
		return nil
	}
}
