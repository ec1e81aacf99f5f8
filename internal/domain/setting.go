package domain

import "time"

// Setting 键值形式的运行时配置项。
//
// 邮件子系统的功能开关存放在这里，面板可以在不重启进程的
// 情况下修改；环境变量只提供默认值。
type Setting struct {
	Name      string    `json:"name" gorm:"primaryKey;type:varchar(100)"`
	Value     string    `json:"value" gorm:"type:text"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// 邮件子系统使用的配置键。
const (
	SettingMailserverEnabled           = "mailserver_enabled"
	SettingMailserverQueuePollInterval = "mailserver_queue_poll_interval"
	SettingMailserverInboundPort       = "mailserver_inbound_port"
	SettingMailserverHostname          = "mailserver_hostname"
	SettingMailserverSubmissionEnabled = "mailserver_submission_enabled"
	SettingMailserverSubmissionPort    = "mailserver_submission_port"
)
