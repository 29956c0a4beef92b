package sigchan

// Chan 非阻塞信号 channel：只通知事件发生，不携带数据。
// 满时 Emit 直接丢弃，信号天然去重。
type Chan struct {
	c chan struct{}
}

func New(bufferSize int) *Chan {
	return &Chan{c: make(chan struct{}, bufferSize)}
}

// Emit 发送信号（非阻塞，满则丢弃）
func (c *Chan) Emit() {
	select {
	case c.c <- struct{}{}:
	default:
	}
}

// C 返回内部 channel 供 select 使用
func (c *Chan) C() <-chan struct{} {
	return c.c
}
