package notify

import (
	"fmt"
	"strings"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Имена шаблонов; они же метки в метриках уведомлений.
const (
	TemplateOperatorOrder       = "operator_order"
	TemplatePaymentConfirmation = "payment_confirmation"
	TemplatePriceAlert          = "price_alert"
	TemplateManual              = "manual"
)

// DefaultTransferAlias: алиас для банковских переводов.
const DefaultTransferAlias = "elguante.mp"

var methodLabels = map[domain.PaymentMethod]string{
	domain.PaymentMethodCash:         "Efectivo",
	domain.PaymentMethodBankTransfer: "Transferencia",
	domain.PaymentMethodCard:         "Tarjeta",
	domain.PaymentMethodPaymentLink:  "Link de pago",
}

// OperatorOrderMessage: сообщение оператору о заказе с ручной оплатой.
func OperatorOrderMessage(order domain.Order, confirmBaseURL, transferAlias string) string {
	if transferAlias == "" {
		transferAlias = DefaultTransferAlias
	}
	var b strings.Builder
	b.WriteString("🛒 *Nueva Orden Pendiente*\n\n")
	fmt.Fprintf(&b, "🧾 *Orden:* %s\n", order.ID)
	fmt.Fprintf(&b, "👤 *Cliente:* %s\n", nonEmpty(order.Customer.Name, order.Customer.ID))
	if order.Customer.Phone != "" {
		fmt.Fprintf(&b, "📱 *Celular:* %s\n", order.Customer.Phone)
	}
	fmt.Fprintf(&b, "💰 *Total:* %s\n", domain.FormatMoney(order.AmountMinor))
	if order.DiscountMinor > 0 {
		fmt.Fprintf(&b, "🏷️ *Descuento:* %s\n", domain.FormatMoney(order.DiscountMinor))
	}
	b.WriteString("\n📦 *Productos:*\n")
	for _, it := range order.Items {
		fmt.Fprintf(&b, "• %s x%d = %s\n", it.Name, it.Qty, domain.FormatMoney(it.PriceMinor*int64(it.Qty)))
	}
	fmt.Fprintf(&b, "\n💳 *Método:* %s\n", nonEmpty(methodLabels[order.PaymentMethod], string(order.PaymentMethod)))
	if order.PaymentMethod == domain.PaymentMethodBankTransfer {
		fmt.Fprintf(&b, "🏦 *Alias:* %s\n", transferAlias)
	}
	fmt.Fprintf(&b, "\n✅ *Confirmar recepción del pago:*\n%s/admin/confirm-payment/%s\n", strings.TrimRight(confirmBaseURL, "/"), order.ID)
	b.WriteString("\n⚠️ Una vez confirmado, la orden se marcará como pagada.")
	return b.String()
}

// PaymentConfirmationMessage: сообщение покупателю о подтверждённой оплате.
func PaymentConfirmationMessage(order domain.Order) string {
	var b strings.Builder
	b.WriteString("✅ *Pago Confirmado*\n\n")
	fmt.Fprintf(&b, "¡Hola! Tu pago por %s de la orden %s ha sido confirmado exitosamente.\n\n", domain.FormatMoney(order.AmountMinor), order.ID)
	if order.PointsEarned > 0 {
		fmt.Fprintf(&b, "⭐ Sumaste %d puntos de fidelidad.\n\n", order.PointsEarned)
	}
	b.WriteString("📦 Tu orden está siendo preparada y será enviada pronto.\n\n")
	b.WriteString("¡Gracias por tu compra! 🛒")
	return b.String()
}

func nonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// PriceAlertMessage: сообщение покупателю о снижении цены до его цели.
func PriceAlertMessage(p domain.PriceAlertPayload) string {
	var b strings.Builder
	b.WriteString("📉 *¡Bajó de precio!*\n\n")
	fmt.Fprintf(&b, "%s ahora cuesta %s", nonEmpty(p.ProductName, p.ProductID), domain.FormatMoney(p.PriceMinor))
	fmt.Fprintf(&b, " (tu precio objetivo era %s).\n\n", domain.FormatMoney(p.TargetMinor))
	b.WriteString("🛒 ¡Aprovechá antes de que se agote!")
	return b.String()
}
