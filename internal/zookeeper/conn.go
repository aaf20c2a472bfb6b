// internal/zookeeper/conn.go
package zookeeper

import (
	"strings"
	"time"

	"github.com/go-zookeeper/zk"

	"brasa/internal/pkg/logger"
)

// Conn 封装 ZooKeeper 连接，锁相关的代码只依赖这个类型
type Conn struct {
	*zk.Conn
}

// Connect 建立到 ZooKeeper 集群的连接。servers 格式为 "host1:2181,host2:2181"。
func Connect(servers string, sessionTimeout time.Duration) (*Conn, error) {
	conn, _, err := zk.Connect(strings.Split(servers, ","), sessionTimeout,
		zk.WithLogInfo(false))
	if err != nil {
		return nil, err
	}
	logger.Logger().Info().Str("servers", servers).Msg("Connected to ZooKeeper")
	return &Conn{Conn: conn}, nil
}
