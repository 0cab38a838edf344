package commit

import (
	"bytes"
	"strings"
	"time"

	"github.com/timxx/qgitc-sub000/internal/errors"
	"github.com/timxx/qgitc-sub000/internal/logging"
	"github.com/timxx/qgitc-sub000/internal/textcodec"
)

// Supported field layouts. The compact layout is LogFormat; the wide one
// splits every identity into name and email fields.
const (
	compactFields = 8
	mixedFields   = 9
	wideFields    = 10
)

// Parser splits a `git log -z` byte stream into records and parses them.
// It is not safe for concurrent use.
type Parser struct {
	repoDir string
	codec   *textcodec.Codec
	logger  *logging.Logger

	buf []byte
	// offset is the stream position of buf[0].
	offset int64
	// scanned is how far into buf the separator search has already gone.
	scanned int
}

// NewParser creates a Parser tagging commits with repoDir. A nil codec
// decodes UTF-8 with lossy replacement.
func NewParser(repoDir string, codec *textcodec.Codec, logger *logging.Logger) *Parser {
	if logger == nil {
		logger = logging.NopLogger()
	}
	if repoDir == "" {
		repoDir = "."
	}
	return &Parser{
		repoDir: repoDir,
		codec:   codec,
		logger:  logger.WithComponent("log-parser").WithRepo(repoDir),
	}
}

// Offset returns the stream position of the first unconsumed byte.
func (p *Parser) Offset() int64 {
	return p.offset
}

// Buffered returns the number of bytes held for an incomplete record.
func (p *Parser) Buffered() int {
	return len(p.buf)
}

// Feed appends chunk and returns the commits completed by it.
func (p *Parser) Feed(chunk []byte) []*Commit {
	var out []*Commit
	p.feedRecords(chunk, func(rec []byte, off int64) {
		out = append(out, p.ParseRecord(rec, off))
	})
	return out
}

// Flush parses whatever remains buffered as a final record. git does not
// terminate the last record when --pretty=format is used.
func (p *Parser) Flush() []*Commit {
	var out []*Commit
	p.flushRecords(func(rec []byte, off int64) {
		out = append(out, p.ParseRecord(rec, off))
	})
	return out
}

// FeedRaw is Feed without parsing: it returns copies of the completed raw
// records together with their stream offsets.
func (p *Parser) FeedRaw(chunk []byte) ([][]byte, []int64) {
	var recs [][]byte
	var offs []int64
	p.feedRecords(chunk, func(rec []byte, off int64) {
		recs = append(recs, bytes.Clone(rec))
		offs = append(offs, off)
	})
	return recs, offs
}

// FlushRaw is Flush without parsing.
func (p *Parser) FlushRaw() ([][]byte, []int64) {
	var recs [][]byte
	var offs []int64
	p.flushRecords(func(rec []byte, off int64) {
		recs = append(recs, bytes.Clone(rec))
		offs = append(offs, off)
	})
	return recs, offs
}

func (p *Parser) feedRecords(chunk []byte, emit func(rec []byte, off int64)) {
	p.buf = append(p.buf, chunk...)

	start := 0
	for {
		i := bytes.IndexByte(p.buf[p.scanned:], RecordSep)
		if i < 0 {
			p.scanned = len(p.buf)
			break
		}
		end := p.scanned + i
		if rec := p.buf[start:end]; !isBlank(rec) {
			emit(rec, p.offset+int64(start))
		}
		start = end + 1
		p.scanned = start
	}

	if start > 0 {
		p.offset += int64(start)
		n := copy(p.buf, p.buf[start:])
		p.buf = p.buf[:n]
		p.scanned -= start
	}
}

func (p *Parser) flushRecords(emit func(rec []byte, off int64)) {
	if !isBlank(p.buf) {
		emit(p.buf, p.offset)
	}
	p.offset += int64(len(p.buf))
	p.buf = p.buf[:0]
	p.scanned = 0
}

// Reset discards buffered bytes and rewinds the cursor.
func (p *Parser) Reset() {
	p.buf = p.buf[:0]
	p.offset = 0
	p.scanned = 0
}

// ParseRecord parses one record without its trailing NUL. offset is only
// used for error reporting. A record with an unsupported field count yields
// a commit with an empty SHA1 and is logged.
func (p *Parser) ParseRecord(rec []byte, offset int64) *Commit {
	text := p.codec.String(rec)
	// Tolerate a newline left between records.
	text = strings.TrimLeft(text, "\n")
	fields := strings.Split(text, string(FieldSep))

	c := &Commit{RepoDir: p.repoDir, fields: fields}

	switch len(fields) {
	case compactFields:
		// sha1 subject message author date committer date parents
		c.Author = parseIdentity(fields[3], "")
		c.Author.Raw, c.Author.When = parseDate(fields[4])
		c.Committer = parseIdentity(fields[5], "")
		c.Committer.Raw, c.Committer.When = parseDate(fields[6])
	case mixedFields:
		// sha1 subject message author authorEmail date committer date parents
		c.Author = parseIdentity(fields[3], fields[4])
		c.Author.Raw, c.Author.When = parseDate(fields[5])
		c.Committer = parseIdentity(fields[6], "")
		c.Committer.Raw, c.Committer.When = parseDate(fields[7])
	case wideFields:
		// sha1 subject message author authorEmail date committer committerEmail date parents
		c.Author = parseIdentity(fields[3], fields[4])
		c.Author.Raw, c.Author.When = parseDate(fields[5])
		c.Committer = parseIdentity(fields[6], fields[7])
		c.Committer.Raw, c.Committer.When = parseDate(fields[8])
	default:
		err := errors.NewParseError("log", offset, text)
		p.logger.Warn("skipping malformed log record",
			"stage", err.Stage,
			"offset", offset,
			"fields", len(fields),
			"error", err.Error())
		return c
	}

	c.SHA1 = strings.TrimSpace(fields[0])
	c.Subject = fields[1]
	c.Message = fields[2]
	c.Parents = strings.Fields(fields[len(fields)-1])
	return c
}

// parseIdentity splits "Name <email>". A separate email field wins when the
// combined field carries none; it may itself be in "Name <email>" form.
func parseIdentity(field, emailField string) Signature {
	name, email := splitIdentity(field)
	if emailField = strings.TrimSpace(emailField); emailField != "" {
		if _, e := splitIdentity(emailField); e != "" {
			emailField = e
		}
		if email == "" {
			email = emailField
		}
	}
	return Signature{Name: name, Email: email}
}

func splitIdentity(s string) (name, email string) {
	s = strings.TrimSpace(s)
	lt := strings.LastIndexByte(s, '<')
	if lt < 0 || !strings.HasSuffix(s, ">") {
		return s, ""
	}
	return strings.TrimSpace(s[:lt]), s[lt+1 : len(s)-1]
}

// parseDate accepts strict ISO 8601 (%aI). The raw text is kept either way.
func parseDate(field string) (string, time.Time) {
	raw := strings.TrimSpace(field)
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return raw, time.Time{}
	}
	return raw, t
}

func isBlank(b []byte) bool {
	return len(bytes.TrimSpace(b)) == 0
}
