package hub

// DescriptorProvider supplies the class data the hub serves. The returned
// bytes are opaque to the hub and must stay valid while it is open.
type DescriptorProvider interface {
	HubDescriptor() []byte
	ReportDescriptor() []byte
}

var noDescriptor = []byte{}

// ProviderFuncs adapts optional callbacks to a DescriptorProvider. A missing
// callback, or one returning nil, yields a zero-length slice.
type ProviderFuncs struct {
	Hub    func() []byte
	Report func() []byte
}

func call(fn func() []byte) []byte {
	if fn == nil {
		return noDescriptor
	}
	if b := fn(); b != nil {
		return b
	}
	return noDescriptor
}

// HubDescriptor calls Hub.
func (p ProviderFuncs) HubDescriptor() []byte { return call(p.Hub) }

// ReportDescriptor calls Report.
func (p ProviderFuncs) ReportDescriptor() []byte { return call(p.Report) }

// StaticProvider serves fixed descriptor bytes, stored by reference.
type StaticProvider struct {
	Hub    []byte
	Report []byte
}

// NewStaticProvider encodes desc and serves it with no report descriptor.
func NewStaticProvider(desc *HubDescriptor) *StaticProvider {
	buf := make([]byte, desc.Size())
	desc.MarshalTo(buf)
	return &StaticProvider{Hub: buf}
}

func (p *StaticProvider) HubDescriptor() []byte {
	if p.Hub == nil {
		return noDescriptor
	}
	return p.Hub
}

func (p *StaticProvider) ReportDescriptor() []byte {
	if p.Report == nil {
		return noDescriptor
	}
	return p.Report
}

var (
	_ DescriptorProvider = ProviderFuncs{}
	_ DescriptorProvider = (*StaticProvider)(nil)
)
