package jobs

func SetBeforeNotify(p *Poller, fn func()) { p.beforeNotify = fn }
