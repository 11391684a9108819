package server

import (
	"errors"
	"io"
	"net"

	"github.com/bourse-exchange/bourse/internal/exchange"
	"github.com/bourse-exchange/bourse/internal/protocol"
	"github.com/bourse-exchange/bourse/internal/trader"
	"github.com/bourse-exchange/bourse/pkg/logging"
)

// serveConn is the per-connection servicer: it registers the connection,
// then receives and dispatches packets until EOF or a transport error, and
// finally tears the session down. Per-request failures NACK and keep the
// connection open; only transport errors end the loop.
func (s *Server) serveConn(conn net.Conn, log *logging.Logger) {
	if err := s.clients.Register(conn); err != nil {
		log.Warn("Rejecting connection", "error", err)
		conn.Close()
		return
	}

	var t *trader.Trader
	for {
		hdr, payload, err := protocol.Recv(conn)
		if err != nil {
			if errors.Is(err, io.EOF) {
				log.Debug("EOF from client")
			} else {
				log.Debug("Receive failed", "error", err)
			}
			break
		}
		log.Debug("<=", "type", hdr.Type, "size", hdr.PayloadSize)

		if t == nil {
			t = s.handleLogin(conn, hdr, payload, log)
			continue
		}
		s.dispatch(t, hdr, payload)
	}

	if t != nil {
		// The final unref closes the socket once every outstanding order
		// and broadcast reference has released.
		s.traders.Logout(t)
	} else {
		conn.Close()
	}
	s.clients.Unregister(conn)
	log.Debug("Servicer terminating")
}

// sendRaw replies on a connection that has no session yet.
func sendRaw(conn net.Conn, t protocol.PacketType) {
	_ = protocol.Send(conn, protocol.NewHeader(t, 0), nil)
}

// handleLogin processes the one packet type accepted before login. Any other
// type, an empty name, a duplicate name or capacity exhaustion is NACKed and
// leaves the connection in the not-logged-in state.
func (s *Server) handleLogin(conn net.Conn, hdr protocol.Header, payload []byte, log *logging.Logger) *trader.Trader {
	if hdr.Type != protocol.LoginPkt || len(payload) == 0 {
		sendRaw(conn, protocol.NackPkt)
		return nil
	}

	name := string(payload)
	t, err := s.traders.Login(conn, name)
	if err != nil {
		log.Debug("Login rejected", "name", name, "error", err)
		sendRaw(conn, protocol.NackPkt)
		return nil
	}

	log.Info("Login", "name", name)
	if err := t.SendAck(nil); err != nil {
		log.Debug("Login ACK failed", "error", err)
	}
	return t
}

// dispatch handles one post-login request and always answers it with an ACK
// or a NACK.
func (s *Server) dispatch(t *trader.Trader, hdr protocol.Header, payload []byte) {
	switch hdr.Type {
	case protocol.LoginPkt:
		// Already logged in.
		t.SendNack()

	case protocol.StatusPkt:
		if len(payload) != 0 {
			t.SendNack()
			return
		}
		info := s.exchange.Status(t.Account())
		t.SendAck(&info)

	case protocol.DepositPkt:
		var funds protocol.FundsInfo
		if funds.Decode(payload) != nil {
			t.SendNack()
			return
		}
		if !t.Account().IncreaseBalance(funds.Amount) {
			t.SendNack()
			return
		}
		info := s.exchange.Status(t.Account())
		t.SendAck(&info)

	case protocol.WithdrawPkt:
		var funds protocol.FundsInfo
		if funds.Decode(payload) != nil {
			t.SendNack()
			return
		}
		if !t.Account().DecreaseBalance(funds.Amount) {
			t.SendNack()
			return
		}
		info := s.exchange.Status(t.Account())
		t.SendAck(&info)

	case protocol.EscrowPkt:
		var escrow protocol.EscrowInfo
		if escrow.Decode(payload) != nil {
			t.SendNack()
			return
		}
		if !t.Account().IncreaseInventory(escrow.Quantity) {
			t.SendNack()
			return
		}
		info := s.exchange.Status(t.Account())
		t.SendAck(&info)

	case protocol.ReleasePkt:
		var escrow protocol.EscrowInfo
		if escrow.Decode(payload) != nil {
			t.SendNack()
			return
		}
		if !t.Account().DecreaseInventory(escrow.Quantity) {
			t.SendNack()
			return
		}
		info := s.exchange.Status(t.Account())
		t.SendAck(&info)

	case protocol.BuyPkt:
		var order protocol.OrderInfo
		if order.Decode(payload) != nil {
			t.SendNack()
			return
		}
		id, err := s.exchange.PostBuy(t, order.Quantity, order.Price)
		if err != nil {
			t.SendNack()
			return
		}
		s.broadcastPosted(exchange.SideBuy, id, order)
		info := s.exchange.Status(t.Account())
		info.OrderID = id
		t.SendAck(&info)

	case protocol.SellPkt:
		var order protocol.OrderInfo
		if order.Decode(payload) != nil {
			t.SendNack()
			return
		}
		id, err := s.exchange.PostSell(t, order.Quantity, order.Price)
		if err != nil {
			t.SendNack()
			return
		}
		info := s.exchange.Status(t.Account())
		info.OrderID = id
		t.SendAck(&info)
		s.broadcastPosted(exchange.SideSell, id, order)

	case protocol.CancelPkt:
		var cancel protocol.CancelInfo
		if cancel.Decode(payload) != nil {
			t.SendNack()
			return
		}
		remaining, ok := s.exchange.Cancel(t, cancel.Order)
		if !ok {
			t.SendNack()
			return
		}
		info := s.exchange.Status(t.Account())
		info.OrderID = cancel.Order
		info.Quantity = remaining
		t.SendAck(&info)

	default:
		t.SendNack()
	}
}

// broadcastPosted announces a freshly posted order to every logged-in trader.
// The order id rides in the buyer or seller field according to side.
func (s *Server) broadcastPosted(side exchange.Side, id uint32, order protocol.OrderInfo) {
	notify := protocol.NotifyInfo{Quantity: order.Quantity, Price: order.Price}
	if side == exchange.SideBuy {
		notify.Buyer = id
	} else {
		notify.Seller = id
	}
	payload := notify.Encode()
	s.traders.Broadcast(protocol.NewHeader(protocol.PostedPkt, len(payload)), payload)
}
