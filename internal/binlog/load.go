package binlog

// AppendBlockEvent carries a chunk of a LOAD DATA INFILE file. BEGIN_LOAD_QUERY
// uses the same layout and only differs in that its block starts the file,
// truncating or creating it, where APPEND_BLOCK extends it.
type AppendBlockEvent struct {
	FileID uint32
	Data   []byte
	Begin  bool
}

func (e *AppendBlockEvent) decode(buf *LogBuffer, postHeaderLen int) error {
	start := buf.Position()
	e.FileID = buf.Uint32()
	buf.SetPosition(start + postHeaderLen)
	e.Data = buf.CopyBytes(buf.Remaining())
	return buf.Err()
}

// DeleteFileEvent discards a file assembled from block events whose load
// statement failed.
type DeleteFileEvent struct {
	FileID uint32
}

func (e *DeleteFileEvent) decode(buf *LogBuffer) error {
	e.FileID = buf.Uint32()
	return buf.Err()
}
