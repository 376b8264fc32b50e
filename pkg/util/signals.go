package util

import "sync"

// SignalHandler 信号处理函数，sender 为事件源，params 为附加参数
type SignalHandler func(sender any, params ...any)

// Signals 进程内信号总线，用于模块间解耦（如：警报升级 -> 通知级联）
type Signals struct {
	mu       sync.RWMutex
	handlers map[string][]SignalHandler
}

var sig = &Signals{handlers: make(map[string][]SignalHandler)}

// Sig 返回全局信号总线
func Sig() *Signals {
	return sig
}

// Connect 注册信号处理函数
func (s *Signals) Connect(event string, handler SignalHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[event] = append(s.handlers[event], handler)
}

// Emit 同步触发信号，按注册顺序调用
func (s *Signals) Emit(event string, sender any, params ...any) {
	s.mu.RLock()
	handlers := make([]SignalHandler, len(s.handlers[event]))
	copy(handlers, s.handlers[event])
	s.mu.RUnlock()

	for _, h := range handlers {
		h(sender, params...)
	}
}

// Disconnect 移除某个事件的全部处理函数（主要用于测试）
func (s *Signals) Disconnect(event string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.handlers, event)
}
